//go:build v8

package sandbox

import _ "github.com/cryguy/lambdajs/internal/v8engine"
