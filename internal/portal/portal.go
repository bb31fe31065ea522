// Package portal opens an ArcGIS portal session and resolves which feature
// layer a fetch should read from.
package portal

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/config"
	"github.com/sells-group/tractkit/internal/fault"
	"github.com/sells-group/tractkit/pkg/arcgis"
)

// searchLimit caps the items requested per search query.
const searchLimit = 20

// Queries containing one of these were copied from the config template and
// never edited.
var placeholders = []string{"your_username", "your_tag_here"}

// Session is a connected portal client.
type Session struct {
	Client    arcgis.Client
	Portal    *arcgis.Portal
	Anonymous bool
}

// Username returns the signed-in user, or "" for anonymous sessions.
func (s *Session) Username() string {
	if s.Portal == nil || s.Portal.User == nil {
		return ""
	}
	return s.Portal.User.Username
}

// Connect authenticates against the portal. A static token is used as is,
// username and password are exchanged for a token, and no credentials at
// all yield an anonymous session. Every failure is a fault.Connection.
func Connect(ctx context.Context, cfg config.ArcGISConfig, doer arcgis.Doer) (*Session, error) {
	log := zap.L().With(zap.String("component", "portal.connect"), zap.String("url", cfg.URL))

	opts := []arcgis.Option{arcgis.WithReferer(cfg.Referer)}
	if doer != nil {
		opts = append(opts, arcgis.WithDoer(doer))
	}

	token := cfg.Token
	if token == "" && cfg.Username != "" {
		tok, err := arcgis.NewClient(cfg.URL, opts...).GenerateToken(ctx, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fault.Wrap(err, fault.Connection, "portal.connect")
		}
		token = tok.Token
	}
	if token != "" {
		opts = append(opts, arcgis.WithToken(token))
	}

	client := arcgis.NewClient(cfg.URL, opts...)
	self, err := client.Self(ctx)
	if err != nil {
		return nil, fault.Wrap(err, fault.Connection, "portal.connect")
	}

	sess := &Session{Client: client, Portal: self, Anonymous: token == ""}
	if sess.Anonymous {
		log.Info("connected anonymously", zap.String("portal", self.Name))
	} else {
		log.Info("connected", zap.String("portal", self.Name), zap.String("user", sess.Username()))
	}
	return sess, nil
}

// LocateRequest lists the candidate sources in priority order.
type LocateRequest struct {
	LayerURL      string
	ItemIDs       []string
	SearchQueries []string
	// Sublayer selects a service sublayer by id; negative picks the first.
	Sublayer int
	// Where is the filter used for the count check.
	Where string
}

// Target is a resolved, queryable feature layer.
type Target struct {
	URL            string
	Name           string
	ItemID         string
	ItemTitle      string
	GeometryType   string
	MaxRecordCount int
	Count          int
	Fields         []arcgis.Field
}

// Locate resolves the layer to fetch: an explicit layer URL, then each item
// id in order, then each search query. The first candidate that answers a
// count query wins. Nothing resolving is a fault.NotFound.
func (s *Session) Locate(ctx context.Context, req LocateRequest) (*Target, error) {
	log := zap.L().With(zap.String("component", "portal.locate"))

	if req.LayerURL != "" {
		t, err := s.inspect(ctx, req.LayerURL, req.Where)
		if err != nil {
			return nil, classify(err, "portal.locate")
		}
		return t, nil
	}

	var lastErr error
	for _, id := range req.ItemIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		item, err := s.Client.Item(ctx, id)
		if err != nil {
			if fault.IsConnection(err) {
				return nil, fault.Wrap(err, fault.Connection, "portal.locate")
			}
			log.Warn("item lookup failed", zap.String("item", id), zap.Error(err))
			lastErr = err
			continue
		}
		t, err := s.resolveItem(ctx, *item, req)
		if err != nil {
			if fault.IsConnection(err) {
				return nil, fault.Wrap(err, fault.Connection, "portal.locate")
			}
			log.Warn("item not queryable", zap.String("item", id), zap.Error(err))
			lastErr = err
			continue
		}
		return t, nil
	}

	items, err := s.Search(ctx, req.SearchQueries)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		t, err := s.resolveItem(ctx, item, req)
		if err != nil {
			if fault.IsConnection(err) {
				return nil, fault.Wrap(err, fault.Connection, "portal.locate")
			}
			log.Warn("item not queryable", zap.String("item", item.ID), zap.String("title", item.Title), zap.Error(err))
			lastErr = err
			continue
		}
		return t, nil
	}

	if lastErr != nil {
		return nil, &fault.Error{Kind: fault.NotFound, Op: "portal.locate", Err: eris.Wrap(lastErr, "no queryable layer")}
	}
	return nil, fault.New(fault.NotFound, "portal.locate", "no layer url, item or search result resolved")
}

// Search runs each non-placeholder query and returns the feature-service
// items, deduplicated by id in first-seen order. A failing query is logged
// and skipped unless the portal rejected the connection.
func (s *Session) Search(ctx context.Context, queries []string) ([]arcgis.Item, error) {
	log := zap.L().With(zap.String("component", "portal.search"))

	var out []arcgis.Item
	seen := make(map[string]bool)
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || isPlaceholder(q) {
			continue
		}
		items, err := s.Client.Search(ctx, q, searchLimit)
		if err != nil {
			if fault.IsConnection(err) {
				return nil, fault.Wrap(err, fault.Connection, "portal.search")
			}
			log.Warn("search failed", zap.String("query", q), zap.Error(err))
			continue
		}
		log.Debug("search", zap.String("query", q), zap.Int("items", len(items)))
		for _, it := range items {
			if !it.IsFeatureService() || seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			out = append(out, it)
		}
	}
	return out, nil
}

// ListLayers returns the sublayers and tables of a feature service. A layer
// URL is accepted and its service root described instead.
func (s *Session) ListLayers(ctx context.Context, serviceURL string) ([]arcgis.LayerRef, error) {
	root, _ := splitLayerURL(serviceURL)
	info, err := s.Client.Service(ctx, root)
	if err != nil {
		return nil, classify(err, "portal.layers")
	}
	refs := make([]arcgis.LayerRef, 0, len(info.Layers)+len(info.Tables))
	refs = append(refs, info.Layers...)
	refs = append(refs, info.Tables...)
	return refs, nil
}

// ItemURL resolves an item id to its service URL.
func (s *Session) ItemURL(ctx context.Context, id string) (string, error) {
	item, err := s.Client.Item(ctx, id)
	if err != nil {
		return "", classify(err, "portal.item")
	}
	if item.URL == "" {
		return "", fault.New(fault.NotFound, "portal.item", "item "+id+" has no service url")
	}
	return item.URL, nil
}

func (s *Session) resolveItem(ctx context.Context, item arcgis.Item, req LocateRequest) (*Target, error) {
	if !item.IsFeatureService() {
		return nil, eris.Errorf("portal: item %s is a %q, not a feature service", item.ID, item.Type)
	}

	layerURL := item.URL
	if _, ok := splitLayerURL(item.URL); !ok {
		info, err := s.Client.Service(ctx, item.URL)
		if err != nil {
			return nil, err
		}
		id, err := pickSublayer(info, req.Sublayer)
		if err != nil {
			return nil, err
		}
		layerURL = arcgis.LayerURL(item.URL, id)
	}

	t, err := s.inspect(ctx, layerURL, req.Where)
	if err != nil {
		return nil, err
	}
	t.ItemID = item.ID
	t.ItemTitle = item.Title
	return t, nil
}

// inspect describes the layer and confirms it answers a count query.
func (s *Session) inspect(ctx context.Context, layerURL, where string) (*Target, error) {
	if where == "" {
		where = "1=1"
	}
	info, err := s.Client.LayerInfo(ctx, layerURL)
	if err != nil {
		return nil, err
	}
	n, err := s.Client.Count(ctx, layerURL, where)
	if err != nil {
		return nil, err
	}
	zap.L().Info("layer located",
		zap.String("component", "portal.locate"),
		zap.String("url", layerURL),
		zap.String("name", info.Name),
		zap.Int("count", n),
	)
	return &Target{
		URL:            strings.TrimRight(layerURL, "/"),
		Name:           info.Name,
		GeometryType:   info.GeometryType,
		MaxRecordCount: info.MaxRecordCount,
		Count:          n,
		Fields:         info.Fields,
	}, nil
}

func pickSublayer(info *arcgis.ServiceInfo, want int) (int, error) {
	refs := append(append([]arcgis.LayerRef{}, info.Layers...), info.Tables...)
	if len(refs) == 0 {
		return 0, eris.New("portal: service has no layers")
	}
	if want < 0 {
		return refs[0].ID, nil
	}
	for _, r := range refs {
		if r.ID == want {
			return r.ID, nil
		}
	}
	return 0, eris.Errorf("portal: sublayer %d not in service", want)
}

// splitLayerURL reports whether u ends in a numeric sublayer id and returns
// the service root.
func splitLayerURL(u string) (string, bool) {
	u = strings.TrimRight(u, "/")
	i := strings.LastIndex(u, "/")
	if i < 0 {
		return u, false
	}
	if _, err := strconv.Atoi(u[i+1:]); err != nil {
		return u, false
	}
	return u[:i], true
}

func isPlaceholder(q string) bool {
	for _, p := range placeholders {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

func classify(err error, op string) error {
	if fault.IsConnection(err) {
		return fault.Wrap(err, fault.Connection, op)
	}
	return fault.Wrap(err, fault.NotFound, op)
}
