package fieldops

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"
)

//go:embed schema/work_order_create.json
var createSchemaJSON []byte

var (
	createSchemaOnce sync.Once
	createSchema     *jsonschema.Schema
	createSchemaErr  error
)

func loadCreateSchema() (*jsonschema.Schema, error) {
	createSchemaOnce.Do(func() {
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal(createSchemaJSON, rs); err != nil {
			createSchemaErr = fmt.Errorf("parse work order schema: %w", err)
			return
		}
		createSchema = rs
	})
	return createSchema, createSchemaErr
}

// ValidateCreateRequest checks req against the work order creation schema.
// Problems are returned as a local *ValidationError.
func ValidateCreateRequest(ctx context.Context, req CreateWorkOrderRequest) error {
	rs, err := loadCreateSchema()
	if err != nil {
		return err
	}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode work order: %w", err)
	}
	verrs, err := rs.ValidateBytes(ctx, b)
	if err != nil {
		return fmt.Errorf("schema validate error: %w", err)
	}
	if len(verrs) == 0 {
		return nil
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, FieldError{
			Field:   strings.TrimPrefix(v.PropertyPath, "/"),
			Message: v.Message,
		})
	}
	return &ValidationError{Fields: fields, Local: true}
}
