package uiautomator2

import (
	"context"
	"fmt"
	"net/http"
)

// Element represents a UI element on the device.
type Element struct {
	id     string
	client *Client
}

// FindElement finds a single element.
func (c *Client) FindElement(ctx context.Context, strategy, selector string) (*Element, error) {
	req := FindElementRequest{
		Strategy: strategy,
		Selector: selector,
	}

	data, err := c.request(ctx, http.MethodPost, c.sessionPath("/element"), req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value ElementModel `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse element response: %w", err)
	}

	if resp.Value.ELEMENT == "" {
		return nil, fmt.Errorf("element not found: %s=%s", strategy, selector)
	}

	return &Element{id: resp.Value.ELEMENT, client: c}, nil
}

// Click taps the element.
func (e *Element) Click(ctx context.Context) error {
	_, err := e.client.request(ctx, http.MethodPost, e.client.sessionPath("/element/"+e.id+"/click"), nil)
	return err
}
