package lang

import "fmt"

// Parser is a hand-rolled recursive-descent parser; no parser-combinator
// or generated-parser library appears anywhere in the retrieved pack for
// this kind of small fixed grammar, and a generated parser would be
// unauditable by the very security scan (internal/codepolicy) that walks
// its output, so a direct descent parser is the only idiomatic choice
// here.
type Parser struct {
	lex  *Lexer
	tok  Token
	peek Token
	err  error
}

// Parse lexes and parses src into a Program.
func Parse(src string) (*Program, error) {
	p := &Parser{lex: NewLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	prog := &Program{}
	for p.tok.Kind != EOF {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, stmt)
	}
	return prog, nil
}

func (p *Parser) advance() error {
	p.tok = p.peek
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = tok
	return nil
}

func (p *Parser) expect(k Kind) (Token, error) {
	if p.tok.Kind != k {
		return Token{}, fmt.Errorf("lang: unexpected token %q at line %d", p.tok.Text, p.tok.Line)
	}
	t := p.tok
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	return t, nil
}

func (p *Parser) skipSemis() error {
	for p.tok.Kind == SEMI {
		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	if err := p.skipSemis(); err != nil {
		return nil, err
	}
	switch p.tok.Kind {
	case IMPORT:
		return p.parseImport()
	case IF:
		return p.parseIf()
	case FOR:
		return p.parseFor()
	case RETURN:
		return p.parseReturn()
	default:
		return p.parseAssignOrExpr()
	}
}

func (p *Parser) parseImport() (Stmt, error) {
	line := p.tok.Line
	if _, err := p.expect(IMPORT); err != nil {
		return nil, err
	}
	first, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	path := []string{first.Text}
	for p.tok.Kind == DOT {
		if err := p.advance(); err != nil {
			return nil, err
		}
		seg, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		path = append(path, seg.Text)
	}
	return &ImportStmt{Path: path, line: line}, nil
}

func (p *Parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for {
		if err := p.skipSemis(); err != nil {
			return nil, err
		}
		if p.tok.Kind == RBRACE || p.tok.Kind == EOF {
			break
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	line := p.tok.Line
	if _, err := p.expect(IF); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	thenBlock, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var elseBlock []Stmt
	if p.tok.Kind == ELSE {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Kind == IF {
			elseStmt, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			elseBlock = []Stmt{elseStmt}
		} else {
			elseBlock, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
	}
	return &IfStmt{Cond: cond, Then: thenBlock, Else: elseBlock, line: line}, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	line := p.tok.Line
	if _, err := p.expect(FOR); err != nil {
		return nil, err
	}
	varName, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(IN); err != nil {
		return nil, err
	}
	iterable, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ForStmt{Var: varName.Text, Iterable: iterable, Body: body, line: line}, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	line := p.tok.Line
	if _, err := p.expect(RETURN); err != nil {
		return nil, err
	}
	if p.tok.Kind == SEMI || p.tok.Kind == RBRACE || p.tok.Kind == EOF {
		return &ReturnStmt{line: line}, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ReturnStmt{Value: val, line: line}, nil
}

func (p *Parser) parseAssignOrExpr() (Stmt, error) {
	line := p.tok.Line
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind == ASSIGN {
		ident, ok := x.(*Ident)
		if !ok {
			return nil, fmt.Errorf("lang: invalid assignment target at line %d", line)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{Target: ident.Name, Value: val, line: line}, nil
	}
	return &ExprStmt{X: x, line: line}, nil
}

// precedence table for binary operators, lowest to highest.
var precedence = map[Kind]int{
	OR:      1,
	AND:     2,
	EQ:      3,
	NEQ:     3,
	LT:      4,
	LTE:     4,
	GT:      4,
	GTE:     4,
	PLUS:    5,
	MINUS:   5,
	STAR:    6,
	SLASH:   6,
	PERCENT: 6,
}

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseBinary(0)
}

func (p *Parser) parseBinary(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := precedence[p.tok.Kind]
		if !ok || prec < minPrec {
			return left, nil
		}
		op := p.tok.Kind
		line := p.tok.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right, line: line}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.tok.Kind == MINUS || p.tok.Kind == NOT {
		op := p.tok.Kind
		line := p.tok.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, X: x, line: line}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.Kind {
		case DOT:
			line := p.tok.Line
			if err := p.advance(); err != nil {
				return nil, err
			}
			attr, err := p.expect(IDENT)
			if err != nil {
				return nil, err
			}
			x = &AttrExpr{Recv: x, Attr: attr.Text, line: line}
		case LPAREN:
			line := p.tok.Line
			if err := p.advance(); err != nil {
				return nil, err
			}
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &CallExpr{Fn: x, Args: args, line: line}
		case LBRACKET:
			line := p.tok.Line
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			x = &IndexExpr{Recv: x, Index: idx, line: line}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parseArgs() ([]Expr, error) {
	var args []Expr
	for p.tok.Kind != RPAREN {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.tok.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	line := p.tok.Line
	switch p.tok.Kind {
	case IDENT:
		name := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Ident{Name: name, line: line}, nil
	case NUMBER:
		text := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NumberLit{Text: text, line: line}, nil
	case STRING:
		text := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringLit{Value: text, line: line}, nil
	case TRUE, FALSE:
		val := p.tok.Kind == TRUE
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BoolLit{Value: val, line: line}, nil
	case NIL:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NilLit{line: line}, nil
	case LPAREN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return x, nil
	case LBRACKET:
		return p.parseListLit()
	case LBRACE:
		return p.parseMapLit()
	default:
		return nil, fmt.Errorf("lang: unexpected token %q at line %d", p.tok.Text, line)
	}
}

func (p *Parser) parseListLit() (Expr, error) {
	line := p.tok.Line
	if _, err := p.expect(LBRACKET); err != nil {
		return nil, err
	}
	var elems []Expr
	for p.tok.Kind != RBRACKET {
		el, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		if p.tok.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(RBRACKET); err != nil {
		return nil, err
	}
	return &ListLit{Elems: elems, line: line}, nil
}

func (p *Parser) parseMapLit() (Expr, error) {
	line := p.tok.Line
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	m := &MapLit{line: line}
	for p.tok.Kind != RBRACE {
		key, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(COLON); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, key)
		m.Values = append(m.Values, val)
		if p.tok.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	return m, nil
}
