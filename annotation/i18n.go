package annotation

import (
	"context"
	"embed"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

var (
	bundle        *i18n.Bundle
	defaultLocal  *i18n.Localizer
	currentLocale string = "en"
)

type localizerKey struct{}

func init() {
	bundle = i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	locales := []string{"en", "pt-BR"}
	for _, locale := range locales {
		data, err := localesFS.ReadFile("locales/" + locale + ".json")
		if err != nil {
			log.Printf("i18n: failed to read locale file %s: %v", locale, err)
			continue
		}

		_, err = bundle.ParseMessageFileBytes(data, locale+".json")
		if err != nil {
			log.Printf("i18n: failed to parse locale file %s: %v", locale, err)
		}
	}

	defaultLocal = i18n.NewLocalizer(bundle, currentLocale)
}

// SetLanguage sets the language of status messages without a request context
func SetLanguage(lang string) {
	if lang == "" {
		return
	}
	if _, err := language.Parse(lang); err != nil {
		log.Printf("i18n: ignoring unknown language %q: %s", lang, err)
		return
	}
	currentLocale = lang
	defaultLocal = i18n.NewLocalizer(bundle, currentLocale)
}

// GetLocalizerFromContext retrieves the localizer from context, or returns default
func GetLocalizerFromContext(ctx context.Context) *i18n.Localizer {
	if ctx == nil {
		return defaultLocal
	}

	if localizer, ok := ctx.Value(localizerKey{}).(*i18n.Localizer); ok {
		return localizer
	}
	return defaultLocal
}

func WithLocalizer(ctx context.Context, localizer *i18n.Localizer) context.Context {
	return context.WithValue(ctx, localizerKey{}, localizer)
}

// GetLocalizerFromRequest creates a localizer based on the Accept-Language header
func GetLocalizerFromRequest(r *http.Request) *i18n.Localizer {
	acceptLang := r.Header.Get("Accept-Language")

	// Format: "en-US,en;q=0.9,pt-BR;q=0.8,pt;q=0.7"
	var langs []string
	if acceptLang != "" {
		for _, part := range strings.Split(acceptLang, ",") {
			lang := strings.TrimSpace(strings.Split(part, ";")[0])
			if lang != "" {
				langs = append(langs, lang)
			}
		}
	}

	if len(langs) == 0 {
		langs = []string{currentLocale}
	}

	return i18n.NewLocalizer(bundle, langs...)
}

// Status is a user facing message kept untranslated until it is shown
type Status struct {
	ID   string
	Data map[string]any
}

func (s Status) Empty() bool {
	return s.ID == ""
}

// T translates a status with the default localizer
func T(s Status) string {
	return localize(defaultLocal, s)
}

// LocalizeWithContext translates a status using the localizer from context
func LocalizeWithContext(ctx context.Context, s Status) string {
	return localize(GetLocalizerFromContext(ctx), s)
}

func localize(localizer *i18n.Localizer, s Status) string {
	if s.Empty() {
		return ""
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    s.ID,
		TemplateData: s.Data,
	})
	if err != nil {
		// Return the message ID if translation not found
		return s.ID
	}
	return msg
}
