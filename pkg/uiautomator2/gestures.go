package uiautomator2

import (
	"context"
	"net/http"
)

// Click taps at screen coordinates.
func (c *Client) Click(ctx context.Context, x, y int) error {
	req := ClickRequest{Offset: &PointModel{X: x, Y: y}}
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/appium/gestures/click"), req)
	return err
}

// ScrollInArea scrolls the content of area. Percent is the share of the
// area covered by the gesture, speed is in pixels per second.
func (c *Client) ScrollInArea(ctx context.Context, area RectModel, direction string, percent float64, speed int) error {
	req := ScrollRequest{
		Area:      &area,
		Direction: direction,
		Percent:   percent,
		Speed:     speed,
	}
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/appium/gestures/scroll"), req)
	return err
}

