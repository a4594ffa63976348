package database

// schema.sql is a readable snapshot of the schema produced by the embedded
// migrations. Regenerate it after adding a migration:
//   go generate ./internal/database

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
