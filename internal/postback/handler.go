// Package postback turns storefront conversion callbacks (pixel or
// server-to-server GET/POST with query parameters) into business events.
package postback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/promo"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrUnknownSource is returned for a source without a parameter mapping.
	ErrUnknownSource = errors.New("unknown postback source")
	// ErrTokenRequired is returned for an untrusted callback without a tracking token.
	ErrTokenRequired = errors.New("tracking token required")
	// ErrBuyerMismatch is returned when an untrusted callback names a buyer
	// other than the one its token was issued to.
	ErrBuyerMismatch = errors.New("buyer does not match token")
)

// LinkLookup resolves a tracking token to its link.
type LinkLookup interface {
	GetLink(ctx context.Context, token string) (*models.TrackingLink, error)
}

// EventIngester stores a business event.
type EventIngester interface {
	Ingest(ctx context.Context, req promo.EventRequest) (*models.BusinessEvent, error)
}

// Params are the normalized callback parameters.
type Params struct {
	Token       string
	BuyerID     string
	Event       string
	OrderID     string
	ProductName string
	BuyerName   string
}

// Result describes the stored event.
type Result struct {
	EventID   string `json:"event_id"`
	BuyerID   string `json:"buyer_id"`
	EventType string `json:"event_type"`
	Platform  string `json:"platform"`
	ViaToken  bool   `json:"via_token"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type source struct {
	params func(q url.Values) Params
	// defaultEvent applies when the callback names no event.
	defaultEvent string
}

var sources = map[string]source{
	"generic": {
		params: func(q url.Values) Params {
			return Params{
				Token:       first(q, "token", "click_id"),
				BuyerID:     q.Get("buyer_id"),
				Event:       q.Get("event"),
				OrderID:     q.Get("order_id"),
				ProductName: q.Get("product_name"),
				BuyerName:   q.Get("buyer_name"),
			}
		},
		defaultEvent: models.EventPurchase,
	},
	"cafe24": {
		params: func(q url.Values) Params {
			return Params{
				Token:       first(q, "token", "promo_token"),
				BuyerID:     q.Get("member_id"),
				Event:       mapCafe24Event(q.Get("event_type")),
				OrderID:     q.Get("order_id"),
				ProductName: q.Get("product_name"),
				BuyerName:   q.Get("buyer_name"),
			}
		},
		defaultEvent: models.EventPurchase,
	},
	"smartstore": {
		params: func(q url.Values) Params {
			return Params{
				Token:       first(q, "token", "promo_token"),
				BuyerID:     q.Get("ordererId"),
				Event:       mapSmartstoreEvent(q.Get("status")),
				OrderID:     q.Get("orderId"),
				ProductName: q.Get("productName"),
				BuyerName:   q.Get("ordererName"),
			}
		},
		defaultEvent: models.EventPurchase,
	},
}

// Sources lists the accepted source names.
func Sources() []string {
	out := make([]string, 0, len(sources))
	for name := range sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handler ingests postbacks. Public callbacks are attributed through the
// tracking token alone: the buyer and platform come from the link. Only
// trusted callers, holding the API key, may name a buyer directly.
type Handler struct {
	links  LinkLookup
	events EventIngester
	logger *zap.Logger
}

func NewHandler(links LinkLookup, events EventIngester, logger *zap.Logger) *Handler {
	return &Handler{links: links, events: events, logger: logger}
}

// Handle maps q through the source's parameter layout and stores the event.
// Unknown tokens yield storage.ErrNotFound. A repeated order event is
// acknowledged with Duplicate set and stored once.
func (h *Handler) Handle(ctx context.Context, sourceName string, q url.Values, trusted bool) (*Result, error) {
	name := strings.ToLower(strings.TrimSpace(sourceName))
	src, ok := sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, sourceName)
	}

	p := src.params(q)
	if strings.TrimSpace(p.Event) == "" {
		p.Event = src.defaultEvent
	}
	p.BuyerID = strings.TrimSpace(p.BuyerID)

	platform := name
	viaToken := false
	if token := strings.TrimSpace(p.Token); token != "" {
		link, err := h.links.GetLink(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve token: %w", err)
		}
		if link == nil {
			h.logger.Warn("postback for unknown token", zap.String("source", name))
			return nil, storage.ErrNotFound
		}
		switch {
		case p.BuyerID == "" || p.BuyerID == link.BuyerID:
			p.BuyerID = link.BuyerID
			platform = link.Platform
			viaToken = true
		case !trusted:
			h.logger.Warn("postback buyer does not match token",
				zap.String("source", name),
				zap.String("buyer_id", p.BuyerID),
			)
			return nil, ErrBuyerMismatch
		}
	} else if !trusted {
		return nil, ErrTokenRequired
	}

	req := promo.EventRequest{
		BuyerID:     p.BuyerID,
		EventType:   p.Event,
		Platform:    platform,
		OrderID:     p.OrderID,
		ProductName: p.ProductName,
		BuyerName:   p.BuyerName,
	}
	ev, err := h.events.Ingest(ctx, req)
	if errors.Is(err, promo.ErrDuplicateEvent) {
		h.logger.Info("duplicate postback ignored",
			zap.String("source", name),
			zap.String("buyer_id", req.BuyerID),
			zap.String("order_id", req.OrderID),
		)
		return &Result{
			BuyerID:   req.BuyerID,
			EventType: strings.ToLower(strings.TrimSpace(req.EventType)),
			Platform:  req.Platform,
			ViaToken:  viaToken,
			Duplicate: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("postback registered",
		zap.String("source", name),
		zap.String("event_id", ev.ID),
		zap.String("buyer_id", ev.BuyerID),
		zap.String("event_type", ev.EventType),
		zap.Bool("via_token", viaToken),
	)
	return &Result{
		EventID:   ev.ID,
		BuyerID:   ev.BuyerID,
		EventType: ev.EventType,
		Platform:  ev.Platform,
		ViaToken:  viaToken,
	}, nil
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func mapCafe24Event(event string) string {
	mappings := map[string]string{
		"order_complete": models.EventPurchase,
		"order":          models.EventPurchase,
		"coupon_use":     models.EventCouponRedeem,
		"review_write":   models.EventReview,
		"login":          models.EventRevisit,
		"visit":          models.EventVisit,
	}
	if mapped, ok := mappings[strings.ToLower(strings.TrimSpace(event))]; ok {
		return mapped
	}
	return event
}

func mapSmartstoreEvent(status string) string {
	mappings := map[string]string{
		"PAYED":            models.EventPurchase,
		"PURCHASE_DECIDED": models.EventPurchase,
		"REVIEW_WRITTEN":   models.EventReview,
		"COUPON_USED":      models.EventCouponRedeem,
	}
	if mapped, ok := mappings[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return mapped
	}
	return status
}
