package vera

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dimmer is a switch with a 0-100 load level, exposed as 0-255 brightness.
// On and off go through SwitchPower so the level survives a toggle.
type Dimmer struct {
	Switch
}

func (d *Dimmer) Brightness() int {
	percent, ok := d.intValue("level")
	if !ok || percent <= 0 {
		return 0
	}
	return int(math.Round(float64(percent) * 2.55))
}

func (d *Dimmer) SetBrightness(ctx context.Context, brightness int) error {
	if brightness < 0 || brightness > 255 {
		return fmt.Errorf("brightness %d: %w", brightness, ErrInvalidValue)
	}
	percent := 0
	if brightness > 0 {
		percent = int(math.Round(float64(brightness) / 2.55))
	}
	return d.SetLevel(ctx, percent)
}

// Level is the raw 0-100 load level.
func (d *Dimmer) Level() int {
	v, _ := d.intValue("level")
	return v
}

func (d *Dimmer) SetLevel(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("level %d: %w", percent, ErrInvalidValue)
	}
	status := "0"
	if percent > 0 {
		status = "1"
	}
	value := strconv.Itoa(percent)
	return d.send(ctx, Command{
		Service: ServiceDimming,
		Action:  "SetLoadLevelTarget",
		Params:  map[string]string{"newLoadlevelTarget": value},
	}, map[string]string{"level": value, "status": status})
}

// SupportsColor reports whether the device exposes the Color1 service.
func (d *Dimmer) SupportsColor() bool {
	_, ok := d.ComplexValue("SupportedColors")
	return ok
}

// Color returns the current RGB colour from CurrentColor.
func (d *Dimmer) Color() ([3]int, bool) {
	current, ok := d.ComplexValue("CurrentColor")
	if !ok {
		return [3]int{}, false
	}
	return parseColor(current)
}

func (d *Dimmer) SetColor(ctx context.Context, rgb [3]int) error {
	for _, c := range rgb {
		if c < 0 || c > 255 {
			return fmt.Errorf("color %v: %w", rgb, ErrInvalidValue)
		}
	}
	target := fmt.Sprintf("%d,%d,%d", rgb[0], rgb[1], rgb[2])
	err := d.send(ctx, Command{
		Service: ServiceColor,
		Action:  "SetColorRGB",
		Params:  map[string]string{"newColorRGBTarget": target},
	}, nil)
	if err != nil {
		return err
	}
	if d.reg.optimisticOn {
		d.reg.applyServiceState(d.id, ServiceColor, "CurrentColor",
			fmt.Sprintf("I=0,A=0,R=%d,G=%d,B=%d", rgb[0], rgb[1], rgb[2]))
	}
	return nil
}

// parseColor reads "I=0,A=0,R=255,G=100,B=100" style values. Channels may be
// keyed by letter or by their index in SupportedColors.
func parseColor(value string) ([3]int, bool) {
	channels := make(map[string]int)
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		channels[strings.ToUpper(k)] = n
	}

	var rgb [3]int
	for i, keys := range [3][2]string{{"R", "2"}, {"G", "3"}, {"B", "4"}} {
		v, ok := channels[keys[0]]
		if !ok {
			v, ok = channels[keys[1]]
		}
		if !ok {
			return [3]int{}, false
		}
		rgb[i] = v
	}
	return rgb, true
}
