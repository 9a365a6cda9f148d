package processing

import (
	"strconv"
	"strings"

	"github.com/nauuaf/image-service/internal/domain"
)

// Transform is one parsed pipeline step.
type Transform func(data []byte) ([]byte, error)

// ParseOperations validates and compiles an ordered operation list before
// any pixel work happens, so a single bad entry aborts the whole pipeline
// with nothing stored. Supported forms:
//
//	resize:WxH        fit within W×H preserving aspect ratio
//	resize:WxH:exact  force exact W×H (may distort)
//	thumbnail:N       square-bounded thumbnail with edge N
//	rotate:D          rotate D degrees, canvas expands
//	<filter>          any name from FilterNames
func (p *Processor) ParseOperations(ops []string) ([]Transform, error) {
	if len(ops) == 0 {
		return nil, domain.Validationf(domain.ErrUnsupportedOperation, "no operations requested")
	}

	filters := make(map[string]bool, len(FilterNames()))
	for _, name := range FilterNames() {
		filters[name] = true
	}

	transforms := make([]Transform, 0, len(ops))
	for _, op := range ops {
		name, arg, _ := strings.Cut(op, ":")
		switch strings.ToLower(name) {
		case "resize":
			width, height, exact, err := parseResizeArg(arg)
			if err != nil {
				return nil, domain.Validationf(domain.ErrUnsupportedOperation,
					"invalid resize operation %q: %v", op, err)
			}
			transforms = append(transforms, func(data []byte) ([]byte, error) {
				return p.Resize(data, width, height, !exact)
			})
		case "thumbnail":
			edge, err := strconv.Atoi(arg)
			if err != nil || edge <= 0 {
				return nil, domain.Validationf(domain.ErrUnsupportedOperation,
					"invalid thumbnail operation %q", op)
			}
			transforms = append(transforms, func(data []byte) ([]byte, error) {
				return p.Thumbnail(data, edge)
			})
		case "rotate":
			degrees, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return nil, domain.Validationf(domain.ErrUnsupportedOperation,
					"invalid rotate operation %q", op)
			}
			transforms = append(transforms, func(data []byte) ([]byte, error) {
				return p.Rotate(data, degrees)
			})
		default:
			if !filters[strings.ToLower(op)] {
				return nil, domain.Validationf(domain.ErrUnsupportedOperation,
					"unknown operation: %s", op)
			}
			filter := op
			transforms = append(transforms, func(data []byte) ([]byte, error) {
				return p.ApplyFilter(data, filter)
			})
		}
	}
	return transforms, nil
}

func parseResizeArg(arg string) (width, height int, exact bool, err error) {
	dims := arg
	if rest, found := strings.CutSuffix(arg, ":exact"); found {
		dims = rest
		exact = true
	}

	w, h, found := strings.Cut(dims, "x")
	if !found {
		return 0, 0, false, strconv.ErrSyntax
	}
	if width, err = strconv.Atoi(w); err != nil {
		return 0, 0, false, err
	}
	if height, err = strconv.Atoi(h); err != nil {
		return 0, 0, false, err
	}
	if width <= 0 || height <= 0 {
		return 0, 0, false, strconv.ErrRange
	}
	return width, height, exact, nil
}
