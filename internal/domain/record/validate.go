package record

import "github.com/go-playground/validator/v10"

// structValidator applies the validate tags on canonical payload structs.
// A single instance is safe for concurrent use and caches struct metadata.
var structValidator = validator.New(validator.WithRequiredStructEnabled())
