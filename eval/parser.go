// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eval

import (
	"fmt"

	"github.com/tracebreak/tracebreak/errkind"
)

// Parse parses a single data-query expression. Operator precedence
// (loosest to tightest): the prefix `*`, `&`, `~`; the postfix `.`,
// `[k]`, `[a..b]`/`[a..]`; then a primary term (a name or one of the
// parenthesized cast forms).
func Parse(src string) (Expr, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("unexpected trailing input at offset %d", p.tok.pos))
	}
	return expr, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(k tokenKind, what string) error {
	if p.tok.kind != k {
		return errkind.New(errkind.ExpressionError, fmt.Sprintf("expected %s at offset %d", what, p.tok.pos))
	}
	return p.advance()
}

// parsePrefix handles the loosest-binding prefix operators: `~`
// (canonical) wraps everything else, so it is parsed outermost.
func (p *parser) parsePrefix() (Expr, error) {
	if p.tok.kind == tokTilde {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return Canonical{Base: inner}, nil
	}
	if p.tok.kind == tokAmp {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return AddrOf{Base: inner}, nil
	}
	if p.tok.kind == tokStar {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return Deref{Base: inner}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles the primary term followed by any chain of `.`
// field access, `[...]` index/slice, tightest-binding.
func (p *parser) parsePostfix() (Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.kind {
		case tokDot:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokIdent {
				return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("expected field name at offset %d", p.tok.pos))
			}
			name := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			base = Field{Base: base, Name: name}
		case tokLBracket:
			base, err = p.parseBracket(base)
			if err != nil {
				return nil, err
			}
		default:
			return base, nil
		}
	}
}

func (p *parser) parseBracket(base Expr) (Expr, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	if p.tok.kind == tokNumber {
		first := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokDotDot {
			lo, err := parseInteger(first.text)
			if err != nil {
				return nil, errkind.Wrap(errkind.ExpressionError, "parsing slice lower bound", err)
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			sl := Slice{Base: base, Lo: lo}
			if p.tok.kind == tokNumber {
				hi, err := parseInteger(p.tok.text)
				if err != nil {
					return nil, errkind.Wrap(errkind.ExpressionError, "parsing slice upper bound", err)
				}
				sl.Hi, sl.HasHi = hi, true
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			if err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			return sl, nil
		}
		if err := p.expect(tokRBracket, "']'"); err != nil {
			return nil, err
		}
		v, err := parseInteger(first.text)
		if err != nil {
			return nil, errkind.Wrap(errkind.ExpressionError, "parsing index", err)
		}
		return Index{Base: base, Key: IndexKey{Int: v, HasInt: true}}, nil
	}
	key, err := p.parseIndexKey()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRBracket, "']'"); err != nil {
		return nil, err
	}
	return Index{Base: base, Key: key}, nil
}

// parseIndexKey parses a wildcard `*` or a literal-struct key
// `{field: value, ...}`-shaped associative-container lookup, written
// without braces as `name: value, name: value`.
func (p *parser) parseIndexKey() (IndexKey, error) {
	if p.tok.kind == tokStar {
		if err := p.advance(); err != nil {
			return IndexKey{}, err
		}
		return IndexKey{Wildcard: true}, nil
	}
	if p.tok.kind == tokIdent && p.peekAheadIsColon() {
		lit := map[string]IndexKey{}
		for {
			name := p.tok.text
			if err := p.advance(); err != nil {
				return IndexKey{}, err
			}
			if err := p.expect(tokColon, "':'"); err != nil {
				return IndexKey{}, err
			}
			sub, err := p.parseIndexKey()
			if err != nil {
				return IndexKey{}, err
			}
			lit[name] = sub
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return IndexKey{}, err
			}
		}
		return IndexKey{Literal: lit}, nil
	}
	if p.tok.kind == tokNumber {
		v, err := parseInteger(p.tok.text)
		if err != nil {
			return IndexKey{}, errkind.Wrap(errkind.ExpressionError, "parsing index key", err)
		}
		if err := p.advance(); err != nil {
			return IndexKey{}, err
		}
		return IndexKey{Int: v, HasInt: true}, nil
	}
	if p.tok.kind == tokString {
		s := p.tok.text
		if err := p.advance(); err != nil {
			return IndexKey{}, err
		}
		return IndexKey{Str: s, HasStr: true}, nil
	}
	return IndexKey{}, errkind.New(errkind.ExpressionError, fmt.Sprintf("unexpected index key at offset %d", p.tok.pos))
}

// peekAheadIsColon is a one-token lookahead used only to disambiguate a
// literal-struct key's `name:` from a bare identifier key; the lexer has
// no backtracking so this re-lexes from the parser's saved position.
func (p *parser) peekAheadIsColon() bool {
	save := *p.lex
	savedTok := p.tok
	defer func() { *p.lex = save; p.tok = savedTok }()
	t, err := p.lex.next()
	return err == nil && t.kind == tokColon
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.tok.kind {
	case tokIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokLParen {
			return p.parseCallArgs(name)
		}
		return Ident{Name: name}, nil
	case tokLParen:
		return p.parseParenForm()
	default:
		return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("unexpected token at offset %d", p.tok.pos))
	}
}

func (p *parser) parseCallArgs(name string) (Expr, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []Expr
	if p.tok.kind != tokRParen {
		for {
			arg, err := p.parsePrefix()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return Call{Name: name, Args: args}, nil
}

// parseParenForm disambiguates `(*type)addr` (pointer cast) from
// `(:type) expr` (type cast) by the token right after '('.
func (p *parser) parseParenForm() (Expr, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	if p.tok.kind == tokStar {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokIdent {
			return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("expected type name at offset %d", p.tok.pos))
		}
		typeName := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		addr, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		return PointerCast{TypeName: typeName, Addr: addr}, nil
	}
	if p.tok.kind == tokColon {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokIdent {
			return nil, errkind.New(errkind.ExpressionError, fmt.Sprintf("expected type name at offset %d", p.tok.pos))
		}
		typeName := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		inner, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return TypeCast{TypeName: typeName, Base: inner}, nil
	}
	inner, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return inner, nil
}
