// Package adslots stores the HTML snippets shown in the site's ad slots.
//
// Snippets persist through the storage layer, or come read-only from the
// NEXT_PUBLIC_AD_* environment variables on hosts that cannot write.
package adslots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"kvpush/internal/storage"
	logx "kvpush/pkg/logx"
)

var (
	ErrReadOnly    = errors.New("adslots: read-only source")
	ErrUnknownSlot = errors.New("adslots: unknown slot")
)

// Slots is the full slot configuration as exchanged with the admin page.
type Slots struct {
	Banner    string `json:"banner"`
	PlayerTop string `json:"playerTop"`
	Overlay   string `json:"overlay,omitempty"`
}

// Slot returns the snippet by slot name ("banner", "playerTop"/"player-top", "overlay").
func (s Slots) Slot(name string) (string, error) {
	switch name {
	case "banner":
		return s.Banner, nil
	case "playerTop", "player-top":
		return s.PlayerTop, nil
	case "overlay":
		return s.Overlay, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSlot, name)
	}
}

type Source interface {
	Load(ctx context.Context) (Slots, error)
	Save(ctx context.Context, s Slots) error
	ReadOnly() bool
}

// StoreSource keeps slots as one JSON document under key.
type StoreSource struct {
	store storage.Store
	key   string
}

func NewStoreSource(store storage.Store, key string) *StoreSource {
	if key == "" {
		key = "ad_slots"
	}
	return &StoreSource{store: store, key: key}
}

func (s *StoreSource) Load(ctx context.Context) (Slots, error) {
	b, err := s.store.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return Slots{}, nil
	}
	if err != nil {
		return Slots{}, err
	}
	var out Slots
	if err := json.Unmarshal(b, &out); err != nil {
		return Slots{}, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return out, nil
}

func (s *StoreSource) Save(ctx context.Context, slots Slots) error {
	b, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, s.key, b)
}

func (s *StoreSource) ReadOnly() bool { return false }

// EnvSource serves slots from environment variables.
type EnvSource struct {
	getenv func(string) string
}

func NewEnvSource(getenv func(string) string) *EnvSource { return &EnvSource{getenv: getenv} }

func (e *EnvSource) Load(context.Context) (Slots, error) {
	return Slots{
		Banner:    e.getenv("NEXT_PUBLIC_AD_BANNER"),
		PlayerTop: e.getenv("NEXT_PUBLIC_AD_PLAYER_TOP"),
		Overlay:   e.getenv("NEXT_PUBLIC_AD_OVERLAY"),
	}, nil
}

func (e *EnvSource) Save(context.Context, Slots) error { return ErrReadOnly }

func (e *EnvSource) ReadOnly() bool { return true }

// Service is what the HTTP layer talks to.
type Service struct {
	src Source
	log logx.Logger
}

func NewService(src Source, log logx.Logger) *Service {
	return &Service{src: src, log: log.With(logx.String("comp", "adslots"))}
}

func (s *Service) ReadOnly() bool { return s.src.ReadOnly() }

func (s *Service) Get(ctx context.Context) (Slots, error) { return s.src.Load(ctx) }

// Update saves slots and returns the inspection of each non-empty snippet.
func (s *Service) Update(ctx context.Context, slots Slots) (map[string]Inspection, error) {
	if s.src.ReadOnly() {
		return nil, ErrReadOnly
	}
	report := map[string]Inspection{}
	for name, html := range map[string]string{"banner": slots.Banner, "playerTop": slots.PlayerTop, "overlay": slots.Overlay} {
		if html == "" {
			continue
		}
		in, err := Inspect(html)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		report[name] = in
	}
	if err := s.src.Save(ctx, slots); err != nil {
		return nil, err
	}
	s.log.Info("ad slots updated", logx.Int("slots", len(report)))
	return report, nil
}

// Render returns the named slot's snippet for the given isolation mode.
func (s *Service) Render(ctx context.Context, name string, mode Mode) (string, error) {
	slots, err := s.src.Load(ctx)
	if err != nil {
		return "", err
	}
	html, err := slots.Slot(name)
	if err != nil {
		return "", err
	}
	return Render(html, mode)
}
