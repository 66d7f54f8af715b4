package lang

// Node is implemented by every AST node. Line reports the 1-based source
// line the node started on, used by codepolicy's security-event logging.
type Node interface {
	Line() int
}

// Program is the root node: a sequence of top-level statements.
type Program struct {
	Statements []Stmt
}

func (p *Program) Line() int { return 0 }

// Stmt is implemented by every statement node.
type Stmt interface {
	Node
	stmtNode()
}

// ImportStmt is `import a.b.c` - the root module (first dotted segment)
// is what codepolicy checks against the allow-list; submodules of an
// allowed root are accepted (spec.md §4.5).
type ImportStmt struct {
	Path []string
	line int
}

func (s *ImportStmt) stmtNode() {}
func (s *ImportStmt) Line() int { return s.line }

// AssignStmt is `target = value`.
type AssignStmt struct {
	Target string
	Value  Expr
	line   int
}

func (s *AssignStmt) stmtNode() {}
func (s *AssignStmt) Line() int { return s.line }

// ExprStmt is a bare expression evaluated for its side effects (chiefly
// calls like print(...)).
type ExprStmt struct {
	X    Expr
	line int
}

func (s *ExprStmt) stmtNode() {}
func (s *ExprStmt) Line() int { return s.line }

// IfStmt is `if cond { ... } else { ... }`; Else may be nil.
type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
	line int
}

func (s *IfStmt) stmtNode() {}
func (s *IfStmt) Line() int { return s.line }

// ForStmt is `for x in iterable { ... }`.
type ForStmt struct {
	Var      string
	Iterable Expr
	Body     []Stmt
	line     int
}

func (s *ForStmt) stmtNode() {}
func (s *ForStmt) Line() int { return s.line }

// ReturnStmt is `return expr` (expr may be nil for a bare return).
type ReturnStmt struct {
	Value Expr
	line  int
}

func (s *ReturnStmt) stmtNode() {}
func (s *ReturnStmt) Line() int { return s.line }

// Expr is implemented by every expression node.
type Expr interface {
	Node
	exprNode()
}

// Ident is a bare name reference.
type Ident struct {
	Name string
	line int
}

func (e *Ident) exprNode() {}
func (e *Ident) Line() int { return e.line }

// NumberLit is a numeric literal, kept as source text; the interpreter
// parses it lazily so codepolicy never needs float semantics.
type NumberLit struct {
	Text string
	line int
}

func (e *NumberLit) exprNode() {}
func (e *NumberLit) Line() int { return e.line }

// StringLit is a string literal with escapes already resolved.
type StringLit struct {
	Value string
	line  int
}

func (e *StringLit) exprNode() {}
func (e *StringLit) Line() int { return e.line }

// BoolLit is `true` or `false`.
type BoolLit struct {
	Value bool
	line  int
}

func (e *BoolLit) exprNode() {}
func (e *BoolLit) Line() int { return e.line }

// NilLit is the `nil` literal.
type NilLit struct{ line int }

func (e *NilLit) exprNode() {}
func (e *NilLit) Line() int { return e.line }

// ListLit is `[a, b, c]`.
type ListLit struct {
	Elems []Expr
	line  int
}

func (e *ListLit) exprNode() {}
func (e *ListLit) Line() int { return e.line }

// MapLit is `{k: v, ...}`; keys are always string-literal-like idents or
// strings, evaluated at interpretation time.
type MapLit struct {
	Keys   []Expr
	Values []Expr
	line   int
}

func (e *MapLit) exprNode() {}
func (e *MapLit) Line() int { return e.line }

// AttrExpr is `x.attr` - the thing codepolicy's dangerous-attribute scan
// walks. Recv may itself be another AttrExpr, forming a chain.
type AttrExpr struct {
	Recv Expr
	Attr string
	line int
}

func (e *AttrExpr) exprNode() {}
func (e *AttrExpr) Line() int { return e.line }

// IndexExpr is `x[i]`.
type IndexExpr struct {
	Recv  Expr
	Index Expr
	line  int
}

func (e *IndexExpr) exprNode() {}
func (e *IndexExpr) Line() int { return e.line }

// CallExpr is `fn(args...)`. Fn is an Ident for a direct call (what
// codepolicy's rejection-set check inspects) or an AttrExpr/IndexExpr for
// a method-style call.
type CallExpr struct {
	Fn   Expr
	Args []Expr
	line int
}

func (e *CallExpr) exprNode() {}
func (e *CallExpr) Line() int { return e.line }

// UnaryExpr is a prefix operator (`-x`, `!x`).
type UnaryExpr struct {
	Op   Kind
	X    Expr
	line int
}

func (e *UnaryExpr) exprNode() {}
func (e *UnaryExpr) Line() int { return e.line }

// BinaryExpr is an infix operator expression.
type BinaryExpr struct {
	Op    Kind
	Left  Expr
	Right Expr
	line  int
}

func (e *BinaryExpr) exprNode() {}
func (e *BinaryExpr) Line() int { return e.line }
