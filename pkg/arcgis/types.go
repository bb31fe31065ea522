package arcgis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Token is a short-lived portal session token.
type Token struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
	SSL     bool   `json:"ssl"`
}

// Portal describes the connected organization and user.
type Portal struct {
	Name string      `json:"name"`
	User *PortalUser `json:"user,omitempty"`
}

// PortalUser is the signed-in user, absent for anonymous sessions.
type PortalUser struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

// Item is a content catalog entry.
type Item struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Owner   string `json:"owner"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Access  string `json:"access"`
}

// IsFeatureService reports whether the item points at a queryable feature service.
func (i Item) IsFeatureService() bool {
	return (i.Type == "Feature Service" || i.Type == "Feature Layer") && i.URL != ""
}

type searchResponse struct {
	Total     int    `json:"total"`
	Start     int    `json:"start"`
	Num       int    `json:"num"`
	NextStart int    `json:"nextStart"`
	Results   []Item `json:"results"`
}

// LayerRef is a sublayer or table entry in a service description.
type LayerRef struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	GeometryType string `json:"geometryType,omitempty"`
}

// ServiceInfo describes a FeatureServer or MapServer root.
type ServiceInfo struct {
	ServiceDescription string     `json:"serviceDescription"`
	MaxRecordCount     int        `json:"maxRecordCount"`
	Layers             []LayerRef `json:"layers"`
	Tables             []LayerRef `json:"tables"`
}

// Field describes one attribute column of a layer.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

// LayerInfo describes a single queryable layer.
type LayerInfo struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	GeometryType   string  `json:"geometryType"`
	MaxRecordCount int     `json:"maxRecordCount"`
	Fields         []Field `json:"fields"`
}

// LayerURL joins a service URL and sublayer id.
func LayerURL(serviceURL string, id int) string {
	return strings.TrimRight(serviceURL, "/") + "/" + strconv.Itoa(id)
}

// QueryParams are the supported layer query parameters.
type QueryParams struct {
	Where             string
	OutFields         string
	ReturnGeometry    bool
	ResultOffset      int
	ResultRecordCount int
	OutSR             int
	ReturnCountOnly   bool
}

func (p QueryParams) values() url.Values {
	v := url.Values{}
	where := p.Where
	if where == "" {
		where = "1=1"
	}
	v.Set("where", where)

	if p.ReturnCountOnly {
		v.Set("returnCountOnly", "true")
		return v
	}

	outFields := p.OutFields
	if outFields == "" {
		outFields = "*"
	}
	v.Set("outFields", outFields)
	v.Set("returnGeometry", strconv.FormatBool(p.ReturnGeometry))
	if p.ResultOffset > 0 {
		v.Set("resultOffset", strconv.Itoa(p.ResultOffset))
	}
	if p.ResultRecordCount > 0 {
		v.Set("resultRecordCount", strconv.Itoa(p.ResultRecordCount))
	}
	if p.OutSR > 0 {
		v.Set("outSR", strconv.Itoa(p.OutSR))
	}
	return v
}

// Feature is a raw layer record: attribute map plus Esri JSON geometry.
type Feature struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
}

// FeatureSet is a layer query response.
type FeatureSet struct {
	ObjectIDFieldName     string    `json:"objectIdFieldName"`
	GeometryType          string    `json:"geometryType"`
	Fields                []Field   `json:"fields"`
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
}

// APIError is a failure reported by the REST API, either as a non-200
// status or as an error envelope inside a 200 response.
type APIError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("arcgis error %d: %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

// Unauthorized reports whether the error is an authentication failure:
// bad credentials, invalid or missing token, or forbidden access.
func (e *APIError) Unauthorized() bool {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden, 498, 499:
		return true
	}
	return false
}

// ConnectionFailure reports whether the portal itself is unusable: an
// authentication failure or a server-side error.
func (e *APIError) ConnectionFailure() bool {
	return e.Unauthorized() || e.Code >= http.StatusInternalServerError
}

// Missing reports whether the requested resource does not exist.
func (e *APIError) Missing() bool {
	return e.Code == http.StatusNotFound
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}
