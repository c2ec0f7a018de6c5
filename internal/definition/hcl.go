package definition

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/alexisbeaulieu97/testdeck/internal/model"
	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// hclFile mirrors File for HCL documents. Steps are labelled blocks:
//
//	step "build" "compile" { run = "make" }
//	configuration {
//	  step "deploy" { subaction = "prod" }
//	}
type hclFile struct {
	ID            string            `hcl:"id"`
	Description   string            `hcl:"description,optional"`
	System        string            `hcl:"system,optional"`
	Platform      string            `hcl:"platform,optional"`
	Types         []string          `hcl:"types,optional"`
	Steps         []hclStep         `hcl:"step,block"`
	Configuration *hclConfiguration `hcl:"configuration,block"`
}

type hclStep struct {
	Type    string            `hcl:"type,label"`
	Name    string            `hcl:"name,label"`
	Run     string            `hcl:"run"`
	WorkDir string            `hcl:"workdir,optional"`
	Shell   string            `hcl:"shell,optional"`
	Env     map[string]string `hcl:"env,optional"`
}

type hclConfiguration struct {
	Project string            `hcl:"project,optional"`
	Vars    map[string]string `hcl:"vars,optional"`
	Steps   []hclConfigStep   `hcl:"step,block"`
}

type hclConfigStep struct {
	Action    string    `hcl:"action,label"`
	Subaction string    `hcl:"subaction,optional"`
	Param     cty.Value `hcl:"param,optional"`
}

func parseHCL(path string, data []byte) (*File, error) {
	parser := hclparse.NewParser()
	body, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, testdeckerrors.NewParseError(path, diagLine(diags), diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(body.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, testdeckerrors.NewParseError(path, diagLine(diags), diags)
	}

	return parsed.toFile()
}

func (p hclFile) toFile() (*File, error) {
	file := &File{
		ID:          p.ID,
		Description: p.Description,
		System:      p.System,
		Platform:    p.Platform,
		Types:       p.Types,
	}

	for _, s := range p.Steps {
		file.Steps = append(file.Steps, Step{
			Type:    s.Type,
			Name:    s.Name,
			Run:     s.Run,
			WorkDir: s.WorkDir,
			Shell:   s.Shell,
			Env:     s.Env,
		})
	}

	if p.Configuration != nil {
		cfg := &model.Configuration{
			Project: p.Configuration.Project,
			Vars:    p.Configuration.Vars,
			Steps:   make([]model.StepSpec, 0, len(p.Configuration.Steps)),
		}
		for i, s := range p.Configuration.Steps {
			param, err := ctyToGo(s.Param)
			if err != nil {
				return nil, fmt.Errorf("configuration step %d (%s): %w", i+1, s.Action, err)
			}
			cfg.Steps = append(cfg.Steps, model.StepSpec{Action: s.Action, Subaction: s.Subaction, Param: param})
		}
		file.Configuration = cfg
	}

	return file, nil
}

// ctyToGo converts a literal HCL value into the plain Go shapes yaml.v3 produces.
func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("param must be a literal value")
	}

	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return v.AsString(), nil
	case ty.Equals(cty.Bool):
		return v.True(), nil
	case ty.Equals(cty.Number):
		bf := v.AsBigFloat()
		if bf.IsInt() {
			n, _ := bf.Int64()
			return int(n), nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case ty.IsMapType() || ty.IsObjectType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out[key.AsString()] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported param type %s", ty.FriendlyName())
	}
}

func diagLine(diags hcl.Diagnostics) int {
	for _, diag := range diags {
		if diag.Subject != nil {
			return diag.Subject.Start.Line
		}
	}
	return 0
}
