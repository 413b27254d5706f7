package au

import (
	"os"

	"github.com/logrusorgru/aurora/v4"
)

var colors = os.Getenv("vox_with_color")
var hasColor = colors != "no"

var Col = aurora.New(aurora.WithColors(hasColor))
