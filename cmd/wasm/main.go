//go:build js && wasm
// +build js,wasm

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/MeKo-Tech/negafix/internal/correct"
	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/pipeline"
)

// CorrectRequest carries optional overrides from JS.
type CorrectRequest struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Sharpness  float64 `json:"sharpness"`
	Format     string  `json:"format"`
}

// correctImage is called from JavaScript with (Uint8Array, optionsJSON?) and returns
// {image, gains, exposureFactor} or {error}.
func correctImage(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("missing image argument")
	}

	var req CorrectRequest
	if len(args) > 1 && args[1].Type() == js.TypeString {
		if err := json.Unmarshal([]byte(args[1].String()), &req); err != nil {
			return errorResult(fmt.Sprintf("failed to parse options: %v", err))
		}
	}

	cfg := correct.DefaultConfig()
	if req.Brightness != 0 {
		cfg.Enhance.Brightness = req.Brightness
	}
	if req.Contrast != 0 {
		cfg.Enhance.Contrast = req.Contrast
	}
	if req.Sharpness != 0 {
		cfg.Enhance.Sharpness = req.Sharpness
	}
	format := imageio.FormatPNG
	if req.Format != "" {
		f, err := imageio.NormalizeFormat(req.Format)
		if err != nil {
			return errorResult(err.Error())
		}
		format = f
	}

	data := make([]byte, args[0].Get("length").Int())
	js.CopyBytesToGo(data, args[0])

	buf, _, err := imageio.Decode(bytes.NewReader(data))
	if err != nil {
		return errorResult(err.Error())
	}

	p, err := pipeline.New(cfg, nil, pipeline.Options{})
	if err != nil {
		return errorResult(err.Error())
	}
	res, err := p.Process(context.Background(), "browser", buf)
	if err != nil {
		return errorResult(err.Error())
	}

	var out bytes.Buffer
	if err := imageio.Encode(&out, res.Output, format, imageio.DefaultOptions()); err != nil {
		return errorResult(err.Error())
	}

	arr := js.Global().Get("Uint8Array").New(out.Len())
	js.CopyBytesToJS(arr, out.Bytes())
	return map[string]interface{}{
		"image":          arr,
		"contentType":    imageio.ContentType(format),
		"gains":          res.Gains.String(),
		"exposureFactor": res.ExposureFactor,
	}
}

func errorResult(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}

func main() {
	c := make(chan struct{})

	js.Global().Set("negafixCorrect", js.FuncOf(correctImage))

	fmt.Println("Negafix WASM module loaded")
	<-c
}
