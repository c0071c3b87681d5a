package anki

import (
	"context"
	"slices"
)

// UniversalFields is the field set of the universal note model, in order.
var UniversalFields = []string{"Topic", "Question", "Answer", "Image Context", "Audio Clip", "Code Snippet", "Notes"}

const universalCSS = `.card {
  font-family: arial; font-size: 20px; text-align: center; color: black; background-color: white;
}
.code { text-align: left; background: #f4f4f4; padding: 10px; border-radius: 5px; font-family: monospace; font-size: 14px; }
.topic { font-size: 12px; color: #888; margin-bottom: 10px; text-transform: uppercase; letter-spacing: 1px; }
.notes { font-size: 14px; color: #666; margin-top: 20px; font-style: italic; }
img { max-width: 100%; border-radius: 8px; margin-top: 10px; }
`

const universalFront = `<div class='topic'>{{Topic}}</div>
<div style='font-weight: bold;'>{{Question}}</div>
<br>
<div>{{Image Context}}</div>
`

const universalBack = `{{FrontSide}}
<hr id=answer>
<div>{{Answer}}</div>
<br>
<div class='code'>{{Code Snippet}}</div>
<br>
<div>{{Audio Clip}}</div>
<div class='notes'>{{Notes}}</div>
`

// UniversalModel returns the definition of the universal note model under name.
func UniversalModel(name string) Model {
	return Model{
		Name:   name,
		Fields: slices.Clone(UniversalFields),
		CSS:    universalCSS,
		Templates: []CardTemplate{
			{Name: "Universal Card", Front: universalFront, Back: universalBack},
		},
	}
}

// CreateUniversalModel creates the universal note model unless a model with
// that name exists. It reports whether a model was created.
func (c *Client) CreateUniversalModel(ctx context.Context, name string) (bool, error) {
	existing, err := c.ModelNames(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(existing, name) {
		return false, nil
	}
	if err := c.CreateModel(ctx, UniversalModel(name)); err != nil {
		return false, err
	}
	return true, nil
}
