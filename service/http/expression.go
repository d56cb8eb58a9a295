package http

import (
	"fmt"
	"github.com/google/shlex"
)

type Expression struct {
	Expr string `json:"expression"`
	Pid  int    `json:"pid"`
}

func newExpression(expr string, pid int) *Expression {
	return &Expression{Expr: expr, Pid: pid}
}

// resolve splits the expression shell style into a command and its arguments.
func (e *Expression) resolve() (string, []string, error) {
	words, err := shlex.Split(e.Expr)
	if err != nil {
		return "", nil, fmt.Errorf("parse expression %q: %v", e.Expr, err)
	}
	if len(words) == 0 {
		return "", nil, nil
	}
	return words[0], words[1:], nil
}
