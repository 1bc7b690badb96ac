package planners

import (
	"context"
	"fmt"
	"path"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Symbols returns the type aliases usable in the project files of the
// example build.
func Symbols() *addressable.SymbolTable {
	return addressable.NewSymbolTable().
		RegisterTarget("java_library").
		RegisterTarget("jar_library").
		RegisterTarget("thrift_library").
		RegisterTarget("resources").
		Register("java_sources", func(cv addressable.ConfigValue, deps []addressable.Ref) (any, error) {
			return JavaSources{Files: sourceFiles(cv), Dependencies: deps}, nil
		}).
		Register("thrift_sources", func(cv addressable.ConfigValue, deps []addressable.Ref) (any, error) {
			return ThriftSources{Files: sourceFiles(cv), Dependencies: deps}, nil
		}).
		Register("resource_sources", func(cv addressable.ConfigValue, _ []addressable.Ref) (any, error) {
			rs := ResourceSources{Files: sourceFiles(cv)}
			if m := cv.String("manifest"); m != "" {
				rs.Manifest = engine.Path{Path: path.Join(cv.SpecPath, m)}
			}
			return rs, nil
		}).
		Register("build_properties", func(cv addressable.ConfigValue, _ []addressable.Ref) (any, error) {
			return BuildPropertiesConfiguration{Properties: cv.StringMap("properties")}, nil
		}).
		Register("jar", func(cv addressable.ConfigValue, _ []addressable.Ref) (any, error) {
			jar := Jar{Org: cv.String("org"), Name: cv.Name, Rev: cv.String("rev")}
			if jar.Org == "" || jar.Name == "" || jar.Rev == "" {
				return nil, fmt.Errorf("jar needs org, name and rev")
			}
			return jar, nil
		}).
		Register("managed_jar", func(cv addressable.ConfigValue, _ []addressable.Ref) (any, error) {
			jar := ManagedJar{Org: cv.String("org"), Name: cv.Name}
			if jar.Org == "" || jar.Name == "" {
				return nil, fmt.Errorf("managed_jar needs org and name")
			}
			return jar, nil
		}).
		Register("managed_resolve", func(cv addressable.ConfigValue, _ []addressable.Ref) (any, error) {
			if cv.Name == "" {
				return nil, fmt.Errorf("managed_resolve needs a name")
			}
			return ManagedResolve{ResolveName: cv.Name, Revs: cv.StringMap("revs")}, nil
		}).
		Register("apache_thrift_java_configuration", func(cv addressable.ConfigValue, deps []addressable.Ref) (any, error) {
			if cv.Name == "" {
				return nil, fmt.Errorf("apache_thrift_java_configuration needs a name")
			}
			return ApacheThriftJavaConfiguration{
				ConfigName:   cv.Name,
				Rev:          cv.String("rev"),
				Strict:       cv.Bool("strict", false),
				Dependencies: deps,
			}, nil
		})
}

// sourceFiles joins the "files" field onto the directory of the project file.
func sourceFiles(cv addressable.ConfigValue) []string {
	files := cv.Strings("files")
	for i, f := range files {
		files[i] = path.Join(cv.SpecPath, f)
	}
	return files
}

// Products are the configuration products a request on an address finds
// among the configurations of its target.
func Products() []engine.Product {
	return []engine.Product{
		engine.ProductOf[JavaSources](),
		engine.ProductOf[ThriftSources](),
		engine.ProductOf[ResourceSources](),
		engine.ProductOf[BuildPropertiesConfiguration](),
		engine.ProductOf[Jar](),
		engine.ProductOf[ManagedJar](),
		engine.ProductOf[ManagedResolve](),
		engine.ProductOf[ApacheThriftJavaConfiguration](),
	}
}

// NewRuleIndex combines the example rules with the targets of mapper.
func NewRuleIndex(mapper *addressable.AddressMapper) (*engine.RuleIndex, error) {
	index, err := mapper.Rules(Products()...).Merge(Rules()).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build rule index: %w", err)
	}
	return index, nil
}

// Goals maps the goals understood by the example build to the products
// they request.
var Goals = map[string][]engine.Product{
	"compile":  {engine.ProductOf[Classpath]()},
	"resolve":  {engine.ProductOf[Jar]()},
	"gen":      {engine.ProductOf[JavaSources]()},
	"manifest": {engine.ProductOf[ResourceManifest]()},
	"list":     {engine.ProductOf[addressable.Addresses]()},
	"cat":      {engine.ProductOf[engine.FileContent]()},
	"ls":       {engine.ProductOf[engine.DirectoryListing]()},
}

// GoalProducts returns the products of goal.
func GoalProducts(goal string) ([]engine.Product, error) {
	products, ok := Goals[goal]
	if !ok {
		return nil, fmt.Errorf("unknown goal %q", goal)
	}
	return products, nil
}

// Build is a loaded example project with the rule index over its targets.
type Build struct {
	Project *config.Project
	Index   *engine.RuleIndex
}

// Load parses the project below the loader's build root with the example
// symbols and indexes its targets. Parse errors are returned together with
// the partially loaded build, as config.ProjectLoader.Load does.
func Load(ctx context.Context, loader *config.ProjectLoader) (*Build, error) {
	project, loadErr := loader.Load(ctx, Symbols())
	if project == nil {
		return nil, loadErr
	}
	index, err := NewRuleIndex(project.Mapper)
	if err != nil {
		return nil, err
	}
	return &Build{Project: project, Index: index}, loadErr
}
