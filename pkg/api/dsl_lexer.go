package api

import (
	"fmt"
	"strings"
	"unicode"
)

type dslTokenKind int

const (
	tokEOF dslTokenKind = iota
	tokSep
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokAssign
	tokComma
	tokPlus
	tokMinus
	tokDot
)

var tokenNames = map[dslTokenKind]string{
	tokEOF:      "end of file",
	tokSep:      "line break",
	tokIdent:    "identifier",
	tokString:   "string",
	tokNumber:   "number",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokLBrace:   "'{'",
	tokRBrace:   "'}'",
	tokLBracket: "'['",
	tokRBracket: "']'",
	tokAssign:   "'='",
	tokComma:    "','",
	tokPlus:     "'+'",
	tokMinus:    "'-'",
	tokDot:      "'.'",
}

func (k dslTokenKind) String() string { return tokenNames[k] }

type dslToken struct {
	kind dslTokenKind
	text string
	raw  string // raw strings only: content before dedenting
	line int
}

var punctuation = map[rune]dslTokenKind{
	'(': tokLParen,
	')': tokRParen,
	'{': tokLBrace,
	'}': tokRBrace,
	'[': tokLBracket,
	']': tokRBracket,
	'=': tokAssign,
	',': tokComma,
	'+': tokPlus,
	'-': tokMinus,
	'.': tokDot,
	';': tokSep,
}

type dslLexer struct {
	src  []rune
	pos  int
	line int
}

func lexDSL(src string) ([]dslToken, error) {
	lx := &dslLexer{src: []rune(src), line: 1}
	var tokens []dslToken
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokEOF {
			return tokens, nil
		}
	}
}

func (lx *dslLexer) peek(offset int) rune {
	if lx.pos+offset >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+offset]
}

func (lx *dslLexer) hasPrefix(s string) bool {
	for i, r := range []rune(s) {
		if lx.peek(i) != r {
			return false
		}
	}
	return true
}

func (lx *dslLexer) next() (dslToken, error) {
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		switch {
		case r == '\n':
			lx.pos++
			lx.line++
			return dslToken{kind: tokSep, line: lx.line - 1}, nil
		case unicode.IsSpace(r):
			lx.pos++
		case lx.hasPrefix("//"):
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		case lx.hasPrefix("/*"):
			if err := lx.skipBlockComment(); err != nil {
				return dslToken{}, err
			}
		case r == '_' || unicode.IsLetter(r):
			return lx.ident(), nil
		case unicode.IsDigit(r):
			return lx.number(), nil
		case lx.hasPrefix(`"""`):
			return lx.rawString()
		case r == '"':
			return lx.quotedString()
		default:
			kind, ok := punctuation[r]
			if !ok {
				return dslToken{}, fmt.Errorf("line %d: unexpected character %q", lx.line, r)
			}
			lx.pos++
			return dslToken{kind: kind, text: string(r), line: lx.line}, nil
		}
	}
	return dslToken{kind: tokEOF, line: lx.line}, nil
}

func (lx *dslLexer) skipBlockComment() error {
	start := lx.line
	lx.pos += 2
	for lx.pos < len(lx.src) {
		if lx.hasPrefix("*/") {
			lx.pos += 2
			return nil
		}
		if lx.src[lx.pos] == '\n' {
			lx.line++
		}
		lx.pos++
	}
	return fmt.Errorf("line %d: unterminated block comment", start)
}

func (lx *dslLexer) ident() dslToken {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		lx.pos++
	}
	return dslToken{kind: tokIdent, text: string(lx.src[start:lx.pos]), line: lx.line}
}

func (lx *dslLexer) number() dslToken {
	start := lx.pos
	for lx.pos < len(lx.src) && (unicode.IsDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '.') {
		lx.pos++
	}
	return dslToken{kind: tokNumber, text: string(lx.src[start:lx.pos]), line: lx.line}
}

// rawString reads a """-delimited string. Raw strings keep their content
// verbatim apart from common indentation, which is removed.
func (lx *dslLexer) rawString() (dslToken, error) {
	start := lx.line
	lx.pos += 3
	begin := lx.pos
	for lx.pos < len(lx.src) {
		if lx.hasPrefix(`"""`) {
			// A run of more than three quotes closes on its last three.
			for lx.peek(3) == '"' {
				lx.pos++
			}
			text := string(lx.src[begin:lx.pos])
			lx.pos += 3
			return dslToken{kind: tokString, text: trimIndent(text), raw: text, line: start}, nil
		}
		if lx.src[lx.pos] == '\n' {
			lx.line++
		}
		lx.pos++
	}
	return dslToken{}, fmt.Errorf("line %d: unterminated raw string", start)
}

func (lx *dslLexer) quotedString() (dslToken, error) {
	lx.pos++
	var b strings.Builder
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		switch r {
		case '"':
			lx.pos++
			return dslToken{kind: tokString, text: b.String(), line: lx.line}, nil
		case '\n':
			return dslToken{}, fmt.Errorf("line %d: unterminated string", lx.line)
		case '\\':
			esc := lx.peek(1)
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			case '"', '\\', '$', '\'':
				b.WriteRune(esc)
			default:
				return dslToken{}, fmt.Errorf("line %d: unsupported escape \\%c", lx.line, esc)
			}
			lx.pos += 2
		default:
			b.WriteRune(r)
			lx.pos++
		}
	}
	return dslToken{}, fmt.Errorf("line %d: unterminated string", lx.line)
}

// trimMargin drops a blank first and last line and strips leading
// whitespace followed by | from every line. Lines without the margin are
// kept as they are.
func trimMargin(s string) string {
	lines := trimBlankEnds(strings.Split(s, "\n"))
	for i, l := range lines {
		if trimmed := strings.TrimLeft(l, " \t"); strings.HasPrefix(trimmed, "|") {
			lines[i] = trimmed[1:]
		}
	}
	return strings.Join(lines, "\n")
}

func trimBlankEnds(lines []string) []string {
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// trimIndent drops a blank first and last line and removes the indentation
// shared by all non-blank lines.
func trimIndent(s string) string {
	lines := trimBlankEnds(strings.Split(s, "\n"))

	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}

	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		if indent > 0 {
			lines[i] = l[indent:]
		}
	}
	return strings.Join(lines, "\n")
}
