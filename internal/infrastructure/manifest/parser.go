package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doeshing/psenv/internal/domain"
)

// ParseError carries the position of a malformed manifest construct.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Load reads and parses a manifest file. Malformed content surfaces as
// domain.ErrCorrupted so callers can treat it like any other broken state.
func Load(path string) (domain.ModuleManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ModuleManifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Parse(string(data))
	if err != nil {
		return domain.ModuleManifest{}, fmt.Errorf("manifest %s unreadable (%v): %w", path, err, domain.ErrCorrupted)
	}
	m.Path = path
	m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m, nil
}

// Parse reads manifest source: one top-level hashtable literal.
func Parse(src string) (domain.ModuleManifest, error) {
	tokens, err := NewLexer(src).Scan()
	if err != nil {
		return domain.ModuleManifest{}, err
	}
	p := &parser{tokens: tokens}
	p.skipSeparators()
	table, err := p.parseHashtable()
	if err != nil {
		return domain.ModuleManifest{}, err
	}
	return mapManifest(table), nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token { return p.tokens[p.pos] }

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) skipSeparators() {
	for {
		switch p.peek().Type {
		case NEWLINE, SEMI:
			p.next()
		default:
			return
		}
	}
}

func (p *parser) errorf(tok Token, format string, args ...interface{}) error {
	return &ParseError{Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf(format, args...)}
}

// parseHashtable consumes "@{ key = value ... }" with newline or semicolon
// separated entries.
func (p *parser) parseHashtable() (map[string]interface{}, error) {
	open := p.next()
	if open.Type != HASHTABLE {
		return nil, p.errorf(open, "expected '@{', got %q", open.Lexeme)
	}

	table := make(map[string]interface{})
	for {
		p.skipSeparators()
		tok := p.peek()
		switch tok.Type {
		case RCURLY:
			p.next()
			return table, nil
		case EOF:
			return nil, p.errorf(tok, "unterminated hashtable")
		}

		key := p.next()
		if key.Type != IDENT && key.Type != STRING {
			return nil, p.errorf(key, "expected key, got %q", key.Lexeme)
		}
		keyName := key.Lexeme
		if key.Type == STRING {
			keyName, _ = key.Literal.(string)
		}

		if eq := p.next(); eq.Type != ASSIGN {
			return nil, p.errorf(eq, "expected '=' after %q", keyName)
		}

		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		// Bare comma lists are arrays without the @() wrapper.
		if p.peek().Type == COMMA {
			list := []interface{}{value}
			for p.peek().Type == COMMA {
				p.next()
				p.skipSeparators()
				item, err := p.parseValue()
				if err != nil {
					return nil, err
				}
				list = append(list, item)
			}
			value = list
		}
		table[keyName] = value
	}
}

func (p *parser) parseValue() (interface{}, error) {
	tok := p.peek()
	switch tok.Type {
	case STRING:
		p.next()
		return tok.Literal, nil
	case NUMBER:
		p.next()
		return tok.Lexeme, nil
	case IDENT:
		p.next()
		return tok.Lexeme, nil
	case VARIABLE:
		p.next()
		switch strings.ToLower(tok.Lexeme) {
		case "$true":
			return true, nil
		case "$false":
			return false, nil
		case "$null":
			return nil, nil
		default:
			return nil, p.errorf(tok, "unsupported variable %q in data file", tok.Lexeme)
		}
	case HASHTABLE:
		return p.parseHashtable()
	case ARRAY:
		return p.parseArray()
	default:
		return nil, p.errorf(tok, "unexpected %q", tok.Lexeme)
	}
}

// parseArray consumes "@( value, value ... )" with commas or newlines
// between items.
func (p *parser) parseArray() ([]interface{}, error) {
	open := p.next()
	if open.Type != ARRAY {
		return nil, p.errorf(open, "expected '@(', got %q", open.Lexeme)
	}

	var items []interface{}
	for {
		p.skipSeparators()
		tok := p.peek()
		switch tok.Type {
		case RROUND:
			p.next()
			return items, nil
		case COMMA:
			p.next()
			continue
		case EOF:
			return nil, p.errorf(tok, "unterminated array")
		}

		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, value)
	}
}

// mapManifest lifts the generic hashtable into the typed subset. Keys are
// matched case-insensitively like the host does.
func mapManifest(table map[string]interface{}) domain.ModuleManifest {
	var m domain.ModuleManifest
	for key, value := range table {
		switch {
		case strings.EqualFold(key, "ModuleVersion"):
			m.ModuleVersion = asString(value)
		case strings.EqualFold(key, "GUID"):
			m.GUID = asString(value)
		case strings.EqualFold(key, "RequiredModules"):
			m.RequiredModules = asDependencies(value)
		case strings.EqualFold(key, "NestedModules"):
			m.NestedModules = asDependencies(value)
		case strings.EqualFold(key, "RequiredAssemblies"):
			m.RequiredAssemblies = asStrings(value)
		}
	}
	return m
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asStrings(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asDependencies(v interface{}) []domain.ModuleDependency {
	switch t := v.(type) {
	case string:
		return []domain.ModuleDependency{{Name: t}}
	case map[string]interface{}:
		return []domain.ModuleDependency{asDependency(t)}
	case []interface{}:
		out := make([]domain.ModuleDependency, 0, len(t))
		for _, item := range t {
			switch entry := item.(type) {
			case string:
				out = append(out, domain.ModuleDependency{Name: entry})
			case map[string]interface{}:
				out = append(out, asDependency(entry))
			}
		}
		return out
	default:
		return nil
	}
}

func asDependency(table map[string]interface{}) domain.ModuleDependency {
	var dep domain.ModuleDependency
	for key, value := range table {
		switch {
		case strings.EqualFold(key, "ModuleName"):
			dep.Name = asString(value)
		case strings.EqualFold(key, "ModuleVersion"), strings.EqualFold(key, "MinimumVersion"):
			dep.MinimumVersion = asString(value)
		case strings.EqualFold(key, "RequiredVersion"):
			dep.RequiredVersion = asString(value)
		case strings.EqualFold(key, "MaximumVersion"):
			dep.MaximumVersion = asString(value)
		}
	}
	return dep
}
