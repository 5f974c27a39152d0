package toolkit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pithecene-io/waypoint/types"
)

const generateImageSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "minLength": 1, "description": "Prompt for image generation"},
    "size": {"type": "string", "minLength": 1, "description": "Image size, e.g. 1024x1024"},
    "style": {"type": "string", "minLength": 1, "description": "Image style, e.g. vivid or natural"}
  },
  "required": ["prompt", "size", "style"]
}`

// GenerateImage describes the image generation tool.
var GenerateImage = Descriptor{
	Name:             "generate_image",
	Description:      "Generate an image from a prompt (approval required).",
	Parameters:       json.RawMessage(generateImageSchema),
	RequiresApproval: true,
	Render:           renderGenerateImage,
}

// Default returns the table of tools the stock backend exposes.
func Default() *Table {
	return MustTable(GenerateImage)
}

func renderGenerateImage(part types.Part) string {
	var args struct {
		Prompt string `json:"prompt"`
		Size   string `json:"size"`
		Style  string `json:"style"`
	}
	if err := json.Unmarshal(part.Args, &args); err != nil {
		return RenderGeneric(part)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "generate image %q", args.Prompt)
	var opts []string
	if args.Size != "" {
		opts = append(opts, "size="+args.Size)
	}
	if args.Style != "" {
		opts = append(opts, "style="+args.Style)
	}
	if len(opts) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(opts, " "))
	}
	switch {
	case part.IsError:
		fmt.Fprintf(&b, "\nfailed: %s", part.Result)
	case part.HasResult():
		fmt.Fprintf(&b, "\n%s", part.Result)
	}
	return b.String()
}
