package vera

import (
	"context"
	"fmt"
	"strconv"
)

// Curtain is a window covering with a 0-100 open level.
type Curtain struct {
	*Device
}

func (c *Curtain) Open(ctx context.Context) error {
	return c.callAction(ctx, ServiceWindowCovering, "Up", map[string]string{"level": "100"})
}

func (c *Curtain) Close(ctx context.Context) error {
	return c.callAction(ctx, ServiceWindowCovering, "Down", map[string]string{"level": "0"})
}

func (c *Curtain) Stop(ctx context.Context) error {
	return c.callAction(ctx, ServiceWindowCovering, "Stop", nil)
}

func (c *Curtain) Level() int {
	v, _ := c.intValue("level")
	return v
}

func (c *Curtain) IsOpen() bool {
	return c.Level() > 0
}

func (c *Curtain) SetLevel(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("level %d: %w", level, ErrInvalidValue)
	}
	value := strconv.Itoa(level)
	return c.send(ctx, Command{
		Service: ServiceDimming,
		Action:  "SetLoadLevelTarget",
		Params:  map[string]string{"newLoadlevelTarget": value},
	}, map[string]string{"level": value})
}
