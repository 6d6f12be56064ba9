// Package extract implements the Extractor Engine: applying
// regex/XPath/CSS/JSON-path rules to a response body and rendering
// the first matching rule's result through the template evaluator.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/jmespath/go-jmespath"

	"github.com/synthbox/capture-proxy/internal/template"
)

// Rule is one (url_rule, body_rule, template) entry from the Config
// Surface.
type Rule struct {
	URLRule      string
	BodyRule     string
	TemplateText string
}

// Result is the rendered notification emitted when a rule matches and
// yields a non-empty extraction.
type Result struct {
	Rule   Rule
	Values []string
	Body   string
}

// Run evaluates rules against normalizedURL/body in order and returns
// the first rule that both matches the URL and yields a non-empty
// extraction, matching base_addon.py:curl_response_extract's
// stop-at-first-match behavior. ok is false when no rule fired.
func Run(rules []Rule, normalizedURL string, body []byte) (Result, bool) {
	content := string(body)
	for _, rule := range rules {
		if !matchesURLRule(rule.URLRule, normalizedURL) {
			continue
		}
		values, err := applyBodyRule(rule.BodyRule, content)
		if err != nil || len(values) == 0 {
			continue
		}
		rendered := template.Render(rule.TemplateText, values)
		return Result{Rule: rule, Values: values, Body: rendered}, true
	}
	return Result{}, false
}

func matchesURLRule(rule, normalizedURL string) bool {
	if strings.HasPrefix(rule, "re:") {
		re, err := regexp.Compile(rule[len("re:"):])
		if err != nil {
			return false
		}
		return re.MatchString(normalizedURL)
	}
	return strings.Contains(normalizedURL, rule)
}

func applyBodyRule(rule, content string) ([]string, error) {
	switch {
	case strings.HasPrefix(rule, "re:"):
		return extractRegex(rule[len("re:"):], content)
	case strings.HasPrefix(rule, "xpath:"):
		return extractXPath(rule[len("xpath:"):], content)
	case strings.HasPrefix(rule, "bs4:"):
		return extractCSS(rule[len("bs4:"):], content)
	case strings.HasPrefix(rule, "json:"):
		return extractJSON(rule[len("json:"):], content)
	default:
		return nil, fmt.Errorf("extract: unknown body rule prefix in %q", rule)
	}
}

func extractRegex(pattern, content string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	matches := re.FindAllString(content, -1)
	return matches, nil
}

func extractXPath(expr, content string) ([]string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		text := strings.TrimSpace(htmlquery.InnerText(n))
		if text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func extractCSS(selector, content string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	var out []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			out = append(out, text)
		}
	})
	return out, nil
}

// extractJSON applies one or more comma-separated JMESPath queries
// against the parsed body, matching base_addon.py's json: handling.
func extractJSON(pathList, content string) ([]string, error) {
	var data interface{}
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil, err
	}
	queries := strings.Split(pathList, ",")
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		val, err := jmespath.Search(q, data)
		if err != nil || val == nil {
			out = append(out, "")
			continue
		}
		out = append(out, fmt.Sprintf("%v", val))
	}
	return out, nil
}
