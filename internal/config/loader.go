package config

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/anvil/internal/compile"
	"github.com/roach88/anvil/internal/graph"
)

// Error code constants - unified across manifest loading.
const (
	ErrCodeNotFound    = "E001" // Workspace path not found
	ErrCodeNoFiles     = "E002" // No CUE files found
	ErrCodeLoadFailed  = "E003" // CUE load failed
	ErrCodeBuildFailed = "E004" // CUE build failed
	ErrCodeBadProject  = "E101" // Invalid project definition
)

// LoadError is one manifest loading failure.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ProjectDef is one project manifest entry.
type ProjectDef struct {
	Name      string   `json:"-"`
	Config    string   `json:"config,omitempty"`
	Sources   []string `json:"sources"`
	Classpath []string `json:"classpath,omitempty"`
	Options   []string `json:"options,omitempty"`
	DependsOn []string `json:"dependsOn,omitempty"`
	OutputDir string   `json:"outputDir,omitempty"`
	Java      bool     `json:"java,omitempty"`
}

// Project returns the def's project handle.
func (d ProjectDef) Project() compile.Project {
	return compile.Project{Name: d.Name, Config: d.Config}
}

// LoadWorkspace loads every project manifest under dir.
//
// Manifests are CUE files declaring projects as fields of the top-level
// "project" struct:
//
//	project: core: {
//	    sources: ["core/src"]
//	    options: ["-deprecation"]
//	}
//	project: app: {
//	    sources: ["app/src"]
//	    dependsOn: ["core"]
//	}
func LoadWorkspace(dir string) ([]ProjectDef, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("workspace not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing workspace: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("error scanning workspace: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE manifests found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
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

	projectsVal := value.LookupPath(cue.ParsePath("project"))
	if !projectsVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadProject, Message: "no project definitions found"}
	}

	iter, err := projectsVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("iterating projects: %v", err)}
	}

	var defs []ProjectDef
	for iter.Next() {
		var def ProjectDef
		if err := iter.Value().Decode(&def); err != nil {
			return nil, &LoadError{Code: ErrCodeBadProject, Message: fmt.Sprintf("project %q: %v", iter.Label(), err)}
		}
		def.Name = iter.Label()
		if len(def.Sources) == 0 {
			return nil, &LoadError{Code: ErrCodeBadProject, Message: fmt.Sprintf("project %q: sources must not be empty", def.Name)}
		}
		defs = append(defs, def)
	}

	if len(defs) == 0 {
		return nil, &LoadError{Code: ErrCodeBadProject, Message: "no project definitions found"}
	}
	return defs, nil
}

// AssembleGraph validates the defs and builds the project DAG.
func AssembleGraph(defs []ProjectDef) (graph.Dag, error) {
	nodes := make([]graph.Node, 0, len(defs))
	for _, def := range defs {
		nodes = append(nodes, graph.Node{
			Project:   def.Project(),
			DependsOn: def.DependsOn,
		})
	}
	return graph.Assemble(nodes)
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
