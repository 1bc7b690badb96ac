package config

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// HCLLoader parses BUILD.hcl files made of target blocks:
//
//	target "guava" {
//	  type = "jar_library"
//	  configurations = [
//	    { type = "jar", org = "com.google.guava", name = "guava", rev = "18.0" },
//	  ]
//	}
type HCLLoader struct{}

var _ Loader = HCLLoader{}

type hclBuildFile struct {
	Targets []*hclTarget `hcl:"target,block"`
}

type hclTarget struct {
	Name   string   `hcl:"name,label"`
	Remain hcl.Body `hcl:",remain"`
}

// Format implements Loader.
func (HCLLoader) Format() string { return "hcl" }

// Load implements Loader.
func (HCLLoader) Load(_ context.Context, filename string, data []byte) ([]map[string]interface{}, []ValidationError) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, convertDiagnostics(filename, diags)
	}

	var parsed hclBuildFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, convertDiagnostics(filename, diags)
	}

	var (
		targets []map[string]interface{}
		errs    []ValidationError
	)
	for _, block := range parsed.Targets {
		target, diags := decodeTargetBlock(block)
		if diags.HasErrors() {
			errs = append(errs, convertDiagnostics(filename, diags)...)
			continue
		}
		targets = append(targets, target)
	}
	return targets, errs
}

func decodeTargetBlock(block *hclTarget) (map[string]interface{}, hcl.Diagnostics) {
	attrs, diags := block.Remain.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	target := map[string]interface{}{"name": block.Name}
	for _, name := range names {
		attr := attrs[name]
		if name == "name" {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unexpected name attribute",
				Detail:   "The target name is the block label.",
				Subject:  attr.NameRange.Ptr(),
			})
			continue
		}
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if valDiags.HasErrors() {
			continue
		}
		goVal, err := fromCtyValue(val)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported value",
				Detail:   fmt.Sprintf("Attribute %q: %s.", name, err),
				Subject:  attr.Expr.Range().Ptr(),
			})
			continue
		}
		target[name] = goVal
	}
	return target, diags
}

// fromCtyValue converts a known cty value to the generic Go form. Whole
// numbers become int64, other numbers float64.
func fromCtyValue(val cty.Value) (interface{}, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]interface{}, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			goElem, err := fromCtyValue(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, goElem)
		}
		return out, nil
	case ty.IsMapType() || ty.IsObjectType():
		out := make(map[string]interface{})
		for it := val.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			goElem, err := fromCtyValue(elem)
			if err != nil {
				return nil, err
			}
			out[key.AsString()] = goElem
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}

func convertDiagnostics(filename string, diags hcl.Diagnostics) []ValidationError {
	var errs []ValidationError
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		ve := ValidationError{File: filename, Message: d.Summary, Severity: "error"}
		if d.Detail != "" {
			ve.Message = d.Summary + ": " + d.Detail
		}
		if d.Subject != nil {
			ve.Line = d.Subject.Start.Line
			ve.Column = d.Subject.Start.Column
		}
		errs = append(errs, ve)
	}
	return errs
}
