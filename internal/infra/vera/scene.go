package vera

import (
	"context"
	"fmt"
)

// SceneController is a keypad or remote that reports the scene it last ran.
// Its values live in service states, which lu_sdata does not carry, so they
// need an explicit refresh.
type SceneController struct {
	*Device
}

func (s *SceneController) LastSceneID() (string, bool) {
	return s.ComplexValue("LastSceneID")
}

func (s *SceneController) LastSceneTime() (string, bool) {
	return s.ComplexValue("LastSceneTime")
}

// RefreshLastScene re-reads both scene variables from the controller.
func (s *SceneController) RefreshLastScene(ctx context.Context) error {
	for _, variable := range []string{"LastSceneID", "LastSceneTime"} {
		if _, err := s.RefreshComplexValue(ctx, variable); err != nil {
			return fmt.Errorf("refreshing last scene: %w", err)
		}
	}
	return nil
}
