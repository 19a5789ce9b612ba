package l10n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

var (
	mu     sync.RWMutex
	bundle *i18n.Bundle
)

// Init loads the embedded message files. Until it succeeds T returns message IDs.
func Init() error {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	err := fs.WalkDir(localesFS, "locales", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		data, err := localesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := b.ParseMessageFileBytes(data, path); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	mu.Lock()
	bundle = b
	mu.Unlock()
	return nil
}

// T translates id for lang, falling back to English and then to id itself.
func T(lang, id string, data ...any) string {
	mu.RLock()
	b := bundle
	mu.RUnlock()
	if b == nil {
		return id
	}

	cfg := &i18n.LocalizeConfig{MessageID: id}
	if len(data) > 0 {
		cfg.TemplateData = data[0]
	}
	translated, err := i18n.NewLocalizer(b, lang, "en").Localize(cfg)
	if err != nil {
		return id
	}
	return translated
}

// Lang returns the primary language subtag of an Accept-Language header. It is
// "en" when nothing parses or the first range is a wildcard ("*" parses as mul).
func Lang(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return "en"
	}
	base, _ := tags[0].Base()
	switch b := base.String(); b {
	case "und", "mul":
		return "en"
	default:
		return b
	}
}
