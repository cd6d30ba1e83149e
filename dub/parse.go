// Package dub parses the commands typed into the admin console.
//
// A command is a name followed by arguments separated by spaces. Arguments
// are identifiers, numbers or double quoted strings. Scripts hold several
// commands separated by newlines or semicolons; '#' starts a comment.
package dub

import (
	"fmt"
	"strconv"
	"strings"
)

type Node interface {
	isNode()
}

func (Identifier) isNode() {}
func (Int) isNode()        {}
func (Float) isNode()      {}
func (String) isNode()     {}

type Command struct {
	Name Identifier
	Args []Node
}

func (c Command) String() string {
	parts := []string{string(c.Name)}
	for _, arg := range c.Args {
		switch v := arg.(type) {
		case String:
			parts = append(parts, strconv.Quote(string(v)))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}

type Identifier string
type Int int
type Float float64
type String string

// Number returns the value of an Int or Float node.
func Number(n Node) (float64, bool) {
	switch v := n.(type) {
	case Int:
		return float64(v), true
	case Float:
		return float64(v), true
	}
	return 0, false
}

// Parse parses a single command.
func Parse(input string) (Command, error) {
	cmds, err := ParseScript(input)
	if err != nil {
		return Command{}, err
	}
	if len(cmds) != 1 {
		return Command{}, fmt.Errorf("expected a single command, got %d", len(cmds))
	}
	return cmds[0], nil
}

// ParseScript parses any number of commands. Empty commands are skipped.
func ParseScript(input string) ([]Command, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := parser{tokens: tokens}
	return p.parse()
}

type parser struct {
	pos    int
	tokens []token
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) parse() ([]Command, error) {
	var cmds []Command
	for {
		switch token := p.next(); token.typ {
		case typeEOF:
			return cmds, nil
		case typeSeparator:
		case typeIdentifier:
			cmd, err := p.command(token)
			if err != nil {
				return cmds, err
			}
			cmds = append(cmds, cmd)
		default:
			return cmds, unexpected(token)
		}
	}
}

func (p *parser) command(name token) (Command, error) {
	cmd := Command{Name: Identifier(name.text)}
	for {
		token := p.next()
		var arg Node
		switch token.typ {
		case typeEOF:
			p.pos--
			return cmd, nil
		case typeSeparator:
			return cmd, nil
		case typeIdentifier:
			arg = Identifier(token.text)
		case typeString:
			s, err := strconv.Unquote(token.text)
			if err != nil {
				return cmd, fmt.Errorf("bad string at position %d: %w", token.pos, err)
			}
			arg = String(s)
		case typeFloat:
			f, err := strconv.ParseFloat(token.text, 64)
			if err != nil {
				return cmd, err
			}
			arg = Float(f)
		case typeInt:
			n, err := strconv.Atoi(token.text)
			if err != nil {
				return cmd, err
			}
			arg = Int(n)
		default:
			return cmd, unexpected(token)
		}
		cmd.Args = append(cmd.Args, arg)
	}
}

func unexpected(t token) error {
	return fmt.Errorf("unexpected token %q at position %d", t.text, t.pos)
}
