package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"render-credit-platform/internal/domain/model"
)

//go:embed locales
var LocalesFS embed.FS

const DefaultLang = "en"

// Translator holds the messages of one language.
type Translator struct {
	lang         string
	translations map[string]string
}

func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", langCode+".yaml")
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = langCode
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T returns the message for key, or the key itself when it is missing.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Lang() string { return t.lang }

// JobMessage describes a job's status to its owner. Failed and expired jobs
// say how many credits came back.
func (t *Translator) JobMessage(j *model.Job) string {
	switch j.Status {
	case model.JobStatusAwaitingApproval:
		return t.T("job.awaiting_approval", j.Cost)
	case model.JobStatusCharged:
		return t.T("job.charged", j.Cost)
	case model.JobStatusFailed:
		cancelled := j.LastError == model.CancelledByUser
		switch {
		case cancelled && j.RefundedAmount > 0:
			return t.T("job.cancelled", j.RefundedAmount)
		case cancelled:
			return t.T("job.cancelled_free")
		case j.RefundedAmount > 0:
			return t.T("job.failed_refunded", j.RefundedAmount)
		}
		return t.T("job.failed")
	case model.JobStatusExpired:
		if j.RefundedAmount > 0 {
			return t.T("job.expired_refunded", j.RefundedAmount)
		}
		return t.T("job.expired")
	}
	return t.T("job." + string(j.Status))
}

// Bundle picks a translator per request language, falling back to English.
type Bundle struct {
	byLang map[string]*Translator
}

func NewBundle(fsys fs.FS, langs ...string) (*Bundle, error) {
	if len(langs) == 0 {
		langs = []string{DefaultLang}
	}
	b := &Bundle{byLang: map[string]*Translator{}}
	for _, l := range append([]string{DefaultLang}, langs...) {
		if _, ok := b.byLang[l]; ok {
			continue
		}
		t, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		b.byLang[l] = t
	}
	return b, nil
}

// For resolves an Accept-Language style value ("fa-IR,fa;q=0.9,en;q=0.8").
func (b *Bundle) For(acceptLanguage string) *Translator {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" {
			continue
		}
		base := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if t, ok := b.byLang[base]; ok {
			return t
		}
	}
	return b.byLang[DefaultLang]
}
