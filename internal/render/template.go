// Package render expands templated source documents and drives the
// external compiler/rasterizer toolchain to turn a finalized Session into
// a completed one, following original_source/latex/rendering.py's five
// step pipeline.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// No example repo in the retrieval pack carries a configurable-delimiter
// Jinja2-workalike (the ecosystem's flosch/pongo2 and similar hardcode
// {{ }}/{% %}), so the block/expr/comment/line-statement delimiter set
// spec.md requires is built as a preprocessing lexer in front of the
// standard library's text/template, rather than adopting a third-party
// template engine that can't be configured to avoid colliding with
// LaTeX's own brace and percent syntax. See DESIGN.md.

var (
	blockRe      = regexp.MustCompile(`(?s)\\BLOCK\{(.*?)\}`)
	exprRe       = regexp.MustCompile(`(?s)\\EXPR\{(.*?)\}`)
	commentRe    = regexp.MustCompile(`(?s)\\#\{(.*?)\}`)
	lineStmtRe   = regexp.MustCompile(`(?m)^(\s*)%#(.*)$`)
	lineCommentRe = regexp.MustCompile(`(?m)^(\s*)%##.*$\n?`)
)

// toGoTemplate rewrites the LaTeX-safe delimiter set into text/template
// syntax: \BLOCK{...} and %# lines become {{ ... }} actions with trailing
// newline trimming (spec.md's "trim trailing block newlines"), \EXPR{...}
// becomes {{ ... }}, \#{...} and %## lines are dropped entirely.
func toGoTemplate(src string) string {
	src = lineCommentRe.ReplaceAllString(src, "")
	src = commentRe.ReplaceAllString(src, "")

	src = lineStmtRe.ReplaceAllStringFunc(src, func(m string) string {
		sub := lineStmtRe.FindStringSubmatch(m)
		return sub[1] + "{{ " + dotify(sub[2]) + " -}}"
	})
	src = blockRe.ReplaceAllStringFunc(src, func(m string) string {
		body := blockRe.FindStringSubmatch(m)[1]
		return "{{ " + dotify(strings.TrimSpace(body)) + " -}}"
	})
	src = exprRe.ReplaceAllStringFunc(src, func(m string) string {
		body := exprRe.FindStringSubmatch(m)[1]
		return "{{ " + dotify(strings.TrimSpace(body)) + " }}"
	})
	return src
}

// identChainRe matches a leading dotted-identifier chain such as "name_1"
// or "data2.name" at the start of an expression/statement body.
var identChainRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*`)

// goKeywords are text/template action keywords that must NOT be prefixed
// with a dot when they appear as the leading token of a block body (e.g.
// "%# if data.flag" must stay "if", not become ".if").
var goKeywords = map[string]bool{
	"if": true, "range": true, "else": true, "end": true,
	"with": true, "define": true, "template": true, "block": true,
}

// dotify rewrites the root-relative variable references spec.md's
// substitution model uses (bare names like "name_1" or "data2.name") into
// text/template's dot-prefixed field access, without disturbing control
// keywords or an already-dotted reference.
func dotify(body string) string {
	body = strings.TrimSpace(body)
	if body == "" || strings.HasPrefix(body, ".") {
		return body
	}
	loc := identChainRe.FindStringIndex(body)
	if loc == nil {
		return body
	}
	head := body[loc[0]:loc[1]]
	if goKeywords[head] {
		rest := body[loc[1]:]
		return head + dotifyRest(rest)
	}
	return "." + head + body[loc[1]:]
}

// dotifyRest dotifies the remaining tokens after a leading keyword, e.g.
// "if data.flag" -> "if .data.flag".
func dotifyRest(rest string) string {
	trimmed := strings.TrimLeft(rest, " \t")
	if trimmed == "" {
		return rest
	}
	prefix := rest[:len(rest)-len(trimmed)]
	return prefix + dotify(trimmed)
}

// Expand renders text against data, whose nested maps are addressable by
// attribute/index (e.g. "data2.name"), matching spec.md §4.6's
// substitution model. Autoescaping is off, matching LaTeX's need for raw
// output.
func Expand(text string, data map[string]any) (string, error) {
	rewritten := toGoTemplate(text)

	tmpl, err := template.New("doc").Parse(rewritten)
	if err != nil {
		return "", fmt.Errorf("render: parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: execute template: %w", err)
	}
	return buf.String(), nil
}
