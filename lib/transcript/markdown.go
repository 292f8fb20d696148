// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"strings"
	"sync"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// markdownInstance is initialized once and reused. The configuration
// never changes and the goldmark Markdown is safe to share; each
// Convert call creates its own parse state.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
			goldmark.WithRendererOptions(
				// Chat messages treat a single newline as a line
				// break, not a paragraph join.
				goldmarkhtml.WithHardWraps(),
				renderer.WithNodeRenderers(
					util.Prioritized(&codeBlockRenderer{}, 200),
				),
			),
		)
	})
	return markdownInstance
}

// renderMarkdown converts a message body to HTML. Raw HTML in the
// input is escaped by goldmark's default renderer, so message content
// cannot inject markup into the transcript.
func renderMarkdown(body string) (string, error) {
	var out strings.Builder
	if err := getMarkdown().Convert([]byte(body), &out); err != nil {
		return "", fmt.Errorf("transcript: rendering markdown: %w", err)
	}
	return out.String(), nil
}

// codeBlockRenderer replaces goldmark's fenced code block output with
// Chroma-highlighted HTML. Unknown languages fall back to Chroma's
// plain-text lexer, so output is always a styled <pre> block.
type codeBlockRenderer struct{}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.render)
}

func (r *codeBlockRenderer) render(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	block := node.(*ast.FencedCodeBlock)
	language := string(block.Language(source))

	var code strings.Builder
	lines := block.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(source))
	}

	if err := highlightCode(w, code.String(), language); err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}

func highlightCode(w util.BufWriter, code, language string) error {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return fmt.Errorf("transcript: tokenising code block: %w", err)
	}

	// Inline styles keep the transcript self-contained: no external
	// stylesheet needed to view an archived file.
	formatter := chromahtml.New()
	if err := formatter.Format(w, styles.Get("github"), iterator); err != nil {
		return fmt.Errorf("transcript: highlighting code block: %w", err)
	}
	return nil
}
