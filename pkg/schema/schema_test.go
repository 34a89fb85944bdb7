package schema

import "testing"

func validDocument() map[string]interface{} {
	return map[string]interface{}{
		"package_configuration": map[string]interface{}{
			"object_store_location":       "s3://bucket/state",
			"inventory_cache_ttl_seconds": 300,
			"concurrent_workers":          10,
		},
		"modules": []interface{}{
			map[string]interface{}{
				"name": "terraform.vpc",
				"deployments": []interface{}{
					map[string]interface{}{
						"include": map[string]interface{}{
							"regions": []interface{}{"eu-west-1"},
						},
					},
				},
			},
		},
	}
}

func TestValidateJSON_AcceptsValidDocument(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := v.ValidateJSON(validDocument()); err != nil {
		t.Fatalf("expected valid document to pass, got %v", err)
	}
}

func TestValidateJSON_RejectsUnknownTopLevelField(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc := validDocument()
	doc["unexpected_field"] = "surprise"

	if err := v.ValidateJSON(doc); err == nil {
		t.Error("expected rejection of unknown top-level field")
	}
}

func TestValidateJSON_RejectsUnknownNestedField(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc := validDocument()
	pkgConfig := doc["package_configuration"].(map[string]interface{})
	pkgConfig["typo_field"] = true

	if err := v.ValidateJSON(doc); err == nil {
		t.Error("expected rejection of unknown nested field")
	}
}

func TestValidateJSON_RejectsMissingRequiredField(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc := validDocument()
	delete(doc["package_configuration"].(map[string]interface{}), "object_store_location")

	if err := v.ValidateJSON(doc); err == nil {
		t.Error("expected rejection of missing required field")
	}
}
