package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/covenant-labs/covenant/internal/compiler"
	"github.com/covenant-labs/covenant/internal/escrow"
	"github.com/covenant-labs/covenant/internal/operator"
	"github.com/covenant-labs/covenant/internal/store"
)

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // file write error
	ErrCodeCompile     = "E008" // definition compile error
	ErrCodeDatabase    = "E009" // database open error
	ErrCodeBadPayment  = "E010" // payment descriptor error
	ErrCodeActionError = "E011" // lifecycle action error
)

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResult contains a compiled definition set and load metadata.
type LoadResult struct {
	Definition *compiler.Definition
	FileCount  int
}

// LoadDefinitions loads and compiles all CUE definition files in a directory.
func LoadDefinitions(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	def, err := compiler.CompileValue(value)
	if err != nil {
		return nil, convertCompileError(err)
	}

	return &LoadResult{Definition: def, FileCount: len(cueFiles)}, nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with
// position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Runtime is the wired system a stateful command operates on: the store,
// the escrow ledger, and every operator the definitions describe, built and
// registered under their content addresses.
type Runtime struct {
	Store     *store.Store
	Operators map[string]*operator.Operator
}

// Close releases the runtime's store.
func (r *Runtime) Close() error {
	return r.Store.Close()
}

// Operator returns a loaded operator by definition name.
func (r *Runtime) Operator(name string) (*operator.Operator, error) {
	op, ok := r.Operators[name]
	if !ok {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("no operator named %q in definitions", name)}
	}
	return op, nil
}

// LoadRuntime compiles definitions, validates them, opens the database, and
// builds every operator. Validation failures abort the load: a command never
// acts under a definition that does not validate.
func LoadRuntime(ctx context.Context, defsDir, dbPath string) (*Runtime, error) {
	result, err := LoadDefinitions(defsDir)
	if err != nil {
		return nil, err
	}
	if verrs := compiler.Validate(result.Definition); len(verrs) > 0 {
		return nil, &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("definitions failed validation: %v (and %d more)", verrs[0], len(verrs)-1),
		}
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: fmt.Sprintf("opening database: %v", err)}
	}

	ledger := &escrow.StoreLedger{}
	factory := operator.NewFactory(st, ledger, ledger, nil, nil)

	operators := make(map[string]*operator.Operator, len(result.Definition.Operators))
	for name, spec := range result.Definition.Operators {
		op, _, err := factory.Build(ctx, spec)
		if err != nil {
			st.Close()
			return nil, &LoadError{Code: ErrCodeCompile, Message: fmt.Sprintf("building operator %q: %v", name, err)}
		}
		operators[name] = op
	}

	return &Runtime{Store: st, Operators: operators}, nil
}
