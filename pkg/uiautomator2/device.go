package uiautomator2

import (
	"context"
	"fmt"
	"net/http"
)

// Back presses the system back button.
func (c *Client) Back(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/back"), nil)
	return err
}

// PressKeyCode presses an Android key code.
func (c *Client) PressKeyCode(ctx context.Context, keyCode int) error {
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/appium/device/press_keycode"), KeyCodeRequest{KeyCode: keyCode})
	return err
}

// Source returns the UI hierarchy of the current screen as XML.
func (c *Client) Source(ctx context.Context) (string, error) {
	data, err := c.request(ctx, http.MethodGet, c.sessionPath("/source"), nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse source response: %w", err)
	}
	return resp.Value, nil
}

// GetDeviceInfo returns device details.
func (c *Client) GetDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	data, err := c.request(ctx, http.MethodGet, c.sessionPath("/appium/device/info"), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value DeviceInfo `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse device info: %w", err)
	}
	return &resp.Value, nil
}

// UpdateSettings changes Appium settings such as waitForIdleTimeout.
func (c *Client) UpdateSettings(ctx context.Context, settings map[string]interface{}) error {
	_, err := c.request(ctx, http.MethodPost, c.sessionPath("/appium/settings"), SettingsRequest{Settings: settings})
	return err
}
