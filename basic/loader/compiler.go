package loader

import (
	"github.com/dop251/goja"

	"github.com/teranos/gbvm/errors"
)

// Compiler turns assembled script text into an executable program.
type Compiler interface {
	Compile(name, code string) (*goja.Program, error)
}

// GojaCompiler compiles with the embedded ECMAScript engine.
type GojaCompiler struct{}

// Compile parses code once so every invocation can reuse the program.
// Syntax errors are compile errors.
func (GojaCompiler) Compile(name, code string) (*goja.Program, error) {
	prog, err := goja.Compile(name+AssembledSuffix, code, false)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "compile %s", name), errors.ErrCompile)
	}
	return prog, nil
}
