// Package arcgis is a small client for the ArcGIS portal sharing API
// (token generation, catalog search, item lookup) and the feature service
// REST endpoints (service and layer description, paged layer queries).
package arcgis
