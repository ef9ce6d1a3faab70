package sandbox

// Engines compiled into every build.
import (
	_ "github.com/cryguy/lambdajs/internal/gojaengine"
	_ "github.com/cryguy/lambdajs/internal/quickjs"
)
