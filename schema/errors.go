package schema

import "errors"

var (
	ErrSchemaInvalid    = errors.New("schema document is invalid")
	ErrPortalUnresolved = errors.New("portal path does not resolve to an ancestor node")
)
