package template

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Renderer substitutes variables into template text. The micro-language:
//
//	{name}                       variable substitution
//	{name|filter}                uppercase, lowercase, capitalize, date,
//	                             datetime, currency
//	{name|plural:one,many}       singular/plural by numeric value
//	{?name}...{/name}            included only when name is truthy
//
// Unresolved placeholders are left verbatim so partially populated
// previews stay legible.
type Renderer struct {
	locale       language.Tag
	currencyUnit currency.Unit
}

// NewRenderer creates a renderer for the deployment locale and currency.
// Invalid inputs fall back to English and USD.
func NewRenderer(locale, currencyCode string) *Renderer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		unit = currency.USD
	}
	return &Renderer{locale: tag, currencyUnit: unit}
}

var (
	conditionalRe = regexp.MustCompile(`(?s)\{\?([a-zA-Z_][a-zA-Z0-9_]*)\}(.*?)\{/([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)(?:\|([a-z]+)(?::([^}]*))?)?\}`)
)

// Render applies the micro-language to a single string field.
func (r *Renderer) Render(text string, vars map[string]any) string {
	out := r.renderConditionals(text, vars)
	return placeholderRe.ReplaceAllStringFunc(out, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		name, filter, arg := groups[1], groups[2], groups[3]

		val, ok := vars[name]
		if !ok {
			return match
		}

		if filter == "" {
			return stringify(val)
		}
		rendered, err := r.applyFilter(val, filter, arg)
		if err != nil {
			return match
		}
		return rendered
	})
}

// RenderBlock renders every string field of a content block.
func (r *Renderer) RenderBlock(block ContentBlock, vars map[string]any) ContentBlock {
	out := ContentBlock{
		Title:   r.Render(block.Title, vars),
		Subject: r.Render(block.Subject, vars),
		Body:    r.Render(block.Body, vars),
		HTML:    r.Render(block.HTML, vars),
	}
	for _, cta := range block.CTAs {
		cta.Text = r.Render(cta.Text, vars)
		cta.URL = r.Render(cta.URL, vars)
		out.CTAs = append(out.CTAs, cta)
	}
	return out
}

// renderConditionals resolves {?name}...{/name} blocks, innermost first.
func (r *Renderer) renderConditionals(text string, vars map[string]any) string {
	for {
		groups := conditionalRe.FindStringSubmatchIndex(text)
		if groups == nil {
			return text
		}
		open := text[groups[2]:groups[3]]
		inner := text[groups[4]:groups[5]]
		closing := text[groups[6]:groups[7]]

		// Mismatched close tags are left for the caller to see.
		if open != closing {
			return text
		}

		replacement := ""
		if truthy(vars[open]) {
			replacement = inner
		}
		text = text[:groups[0]] + replacement + text[groups[1]:]
	}
}

func (r *Renderer) applyFilter(val any, filter, arg string) (string, error) {
	switch filter {
	case "uppercase":
		return strings.ToUpper(stringify(val)), nil
	case "lowercase":
		return strings.ToLower(stringify(val)), nil
	case "capitalize":
		return capitalize(stringify(val)), nil
	case "date":
		t, ok := asTime(val)
		if !ok {
			return "", fmt.Errorf("not a date: %v", val)
		}
		return t.Format("Jan 2, 2006"), nil
	case "datetime":
		t, ok := asTime(val)
		if !ok {
			return "", fmt.Errorf("not a date: %v", val)
		}
		return t.Format("Jan 2, 2006 3:04 PM"), nil
	case "currency":
		f, ok := asNumber(val)
		if !ok {
			return "", fmt.Errorf("not a number: %v", val)
		}
		p := message.NewPrinter(r.locale)
		return p.Sprint(currency.Symbol(r.currencyUnit.Amount(f))), nil
	case "plural":
		forms := strings.SplitN(arg, ",", 2)
		if len(forms) != 2 {
			return "", fmt.Errorf("plural filter needs singular,plural")
		}
		f, ok := asNumber(val)
		if !ok {
			return "", fmt.Errorf("not a number: %v", val)
		}
		if math.Abs(f-1) < 1e-9 {
			return forms[0], nil
		}
		return forms[1], nil
	}
	return "", fmt.Errorf("unknown filter: %s", filter)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + s[size:]
}

func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format("Jan 2, 2006")
	default:
		return fmt.Sprintf("%v", val)
	}
}

func truthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func asNumber(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func asTime(val any) (time.Time, bool) {
	switch v := val.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
