// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []token {
	t.Helper()
	l := newLexer(src)
	var toks []token
	for {
		tok, err := l.next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks
		}
	}
}

func TestLexerTokenizesCoreOperators(t *testing.T) {
	toks := lexAll(t, "~node.next[3..5]")
	kinds := make([]tokenKind, len(toks))
	for i, tok := range toks {
		kinds[i] = tok.kind
	}
	assert.Equal(t, []tokenKind{
		tokTilde, tokIdent, tokDot, tokIdent, tokLBracket, tokNumber, tokDotDot, tokNumber, tokRBracket, tokEOF,
	}, kinds)
}

func TestLexerHexNumber(t *testing.T) {
	toks := lexAll(t, "0x7fff")
	require.Len(t, toks, 2)
	assert.Equal(t, tokNumber, toks[0].kind)
	v, err := parseInteger(toks[0].text)
	require.NoError(t, err)
	assert.EqualValues(t, 0x7fff, v)
}

func TestLexerIdentAllowsEmbeddedColon(t *testing.T) {
	toks := lexAll(t, "std::vector")
	require.Len(t, toks, 2)
	assert.Equal(t, "std::vector", toks[0].text)
}

func TestLexerRejectsUnknownCharacter(t *testing.T) {
	l := newLexer("@")
	_, err := l.next()
	assert.Error(t, err)
}
