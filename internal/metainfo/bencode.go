package metainfo

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind is one of the four bencode token kinds.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return "invalid"
	}
}

// Value is a decoded bencode node. Only the field matching Kind is set.
type Value struct {
	Kind Kind
	Str  []byte
	Int  int64
	List []Value
	Dict []Pair
}

// Pair is a dictionary entry. Dictionaries keep the key order they were read
// in, duplicates included.
type Pair struct {
	Key   string
	Value Value
}

// Lookup returns the first value stored under key in a dictionary.
func (v Value) Lookup(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	for _, p := range v.Dict {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

const maxDepth = 512

var errUnexpectedEOF = errors.New("unexpected end of input")

type parser struct {
	buf   []byte
	pos   int
	depth int
}

// Parse decodes the first bencode value in data and reports how many bytes it
// consumed. Non-canonical integers and string lengths (leading zeros, "-0")
// are rejected so that Encode reproduces the input byte for byte.
func Parse(data []byte) (Value, int, error) {
	p := parser{buf: data}
	v, err := p.value()
	if err != nil {
		return Value{}, p.pos, err
	}
	return v, p.pos, nil
}

func (p *parser) value() (Value, error) {
	if p.pos >= len(p.buf) {
		return Value{}, errUnexpectedEOF
	}
	switch c := p.buf[p.pos]; {
	case c == 'i':
		p.pos++
		n, err := p.integer('e')
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInt, Int: n}, nil
	case c == 'l':
		return p.list()
	case c == 'd':
		return p.dict()
	case c >= '0' && c <= '9':
		s, err := p.str()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindString, Str: s}, nil
	default:
		return Value{}, fmt.Errorf("unexpected byte %q at offset %d", c, p.pos)
	}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("nesting deeper than %d at offset %d", maxDepth, p.pos)
	}
	return nil
}

func (p *parser) list() (Value, error) {
	if err := p.enter(); err != nil {
		return Value{}, err
	}
	defer func() { p.depth-- }()
	p.pos++ // 'l'
	items := []Value{}
	for {
		if p.pos >= len(p.buf) {
			return Value{}, errUnexpectedEOF
		}
		if p.buf[p.pos] == 'e' {
			p.pos++
			return Value{Kind: KindList, List: items}, nil
		}
		item, err := p.value()
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
}

func (p *parser) dict() (Value, error) {
	if err := p.enter(); err != nil {
		return Value{}, err
	}
	defer func() { p.depth-- }()
	p.pos++ // 'd'
	pairs := []Pair{}
	for {
		if p.pos >= len(p.buf) {
			return Value{}, errUnexpectedEOF
		}
		if p.buf[p.pos] == 'e' {
			p.pos++
			return Value{Kind: KindDict, Dict: pairs}, nil
		}
		if c := p.buf[p.pos]; c < '0' || c > '9' {
			return Value{}, fmt.Errorf("dictionary key at offset %d is not a string", p.pos)
		}
		key, err := p.str()
		if err != nil {
			return Value{}, err
		}
		val, err := p.value()
		if err != nil {
			return Value{}, err
		}
		pairs = append(pairs, Pair{Key: string(key), Value: val})
	}
}

func (p *parser) str() ([]byte, error) {
	n, err := p.integer(':')
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative string length at offset %d", p.pos)
	}
	if n > int64(len(p.buf)-p.pos) {
		return nil, fmt.Errorf("string of length %d overruns input at offset %d", n, p.pos)
	}
	s := p.buf[p.pos : p.pos+int(n)]
	p.pos += int(n)
	return s, nil
}

// integer reads a canonical decimal terminated by term and consumes the
// terminator.
func (p *parser) integer(term byte) (int64, error) {
	start := p.pos
	end := start
	for end < len(p.buf) && p.buf[end] != term {
		end++
	}
	if end >= len(p.buf) {
		return 0, errUnexpectedEOF
	}
	digits := string(p.buf[start:end])
	if !canonicalInt(digits) {
		return 0, fmt.Errorf("malformed integer %q at offset %d", digits, start)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("integer %q at offset %d: %w", digits, start, err)
	}
	p.pos = end + 1
	return n, nil
}

func canonicalInt(s string) bool {
	neg := len(s) > 0 && s[0] == '-'
	if neg {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	if s[0] == '0' {
		return len(s) == 1 && !neg
	}
	return true
}

// Encode serializes v. Dictionary keys are written in stored order, not
// sorted.
func Encode(v Value) []byte {
	return appendValue(nil, v)
}

func appendValue(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindString:
		return appendString(dst, v.Str)
	case KindInt:
		dst = append(dst, 'i')
		dst = strconv.AppendInt(dst, v.Int, 10)
		return append(dst, 'e')
	case KindList:
		dst = append(dst, 'l')
		for _, item := range v.List {
			dst = appendValue(dst, item)
		}
		return append(dst, 'e')
	case KindDict:
		dst = append(dst, 'd')
		for _, p := range v.Dict {
			dst = appendString(dst, []byte(p.Key))
			dst = appendValue(dst, p.Value)
		}
		return append(dst, 'e')
	}
	return dst
}

func appendString(dst, s []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, ':')
	return append(dst, s...)
}
