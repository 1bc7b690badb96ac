package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryBuiltIns(t *testing.T) {
	sr := NewSchemaRegistry()
	assert.Equal(t, []string{"configuration", "dependency", "target"}, sr.ListSchemas())

	for _, name := range sr.ListSchemas() {
		schema, ok := sr.GetSchema(name)
		require.True(t, ok)
		assert.NoError(t, schema.Err())
	}
}

func TestSchemaRegistryValidateTarget(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]interface{}{
		"name":           "lib",
		"type":           "java_library",
		"dependencies":   []interface{}{":util", map[string]interface{}{"type": "jar", "rev": "1"}},
		"variants":       map[string]interface{}{"resolve": "latest"},
		"configurations": []interface{}{map[string]interface{}{"type": "java", "files": []interface{}{"A.java"}}},
	}
	assert.NoError(t, sr.ValidateTarget(ctx, valid))

	invalid := []map[string]interface{}{
		{"type": "java_library"},
		{"name": "a/b"},
		{"name": "a", "type": ""},
		{"name": "a", "colour": "red"},
		{"name": "a", "variants": map[string]interface{}{"jdk": 8}},
		{"name": "a", "dependencies": []interface{}{3}},
		{"name": "a", "configurations": []interface{}{map[string]interface{}{"name": "untyped"}}},
	}
	for _, target := range invalid {
		assert.Error(t, sr.ValidateTarget(ctx, target), "%v", target)
	}
}

func TestSchemaRegistryCustomSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	require.NoError(t, sr.RegisterSchema("jar", `
#Jar: {
	org:  string
	name: string
	rev?: string & =~"^[0-9.]+$"
}
`, "#Jar"))

	assert.NoError(t, sr.ValidateAgainstSchema(ctx, "jar", map[string]interface{}{"org": "junit", "name": "junit", "rev": "4.12"}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "jar", map[string]interface{}{"org": "junit", "name": "junit", "rev": "latest"}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "jar", map[string]interface{}{"org": "junit"}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "missing", map[string]interface{}{}))

	assert.Error(t, sr.RegisterSchema("broken", "#X: {", "#X"))
	assert.Error(t, sr.RegisterSchema("undefined", "#X: {}", "#Y"))
}
