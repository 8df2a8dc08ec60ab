package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// Client is a minimal protocol client for one-shot commands: connect,
// init, act, disconnect. Snapshot pushes arriving between request and
// response are skipped, not buffered.
type Client struct {
	socket *websocket.Conn
	nextID atomic.Uint64
}

// Dial connects to the daemon at addr and performs connection.init.
func Dial(ctx context.Context, addr, clientType string) (*Client, error) {
	socket, resp, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s: %w", addr, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	c := &Client{socket: socket}
	payload, err := json.Marshal(InitPayload{ClientType: clientType})
	if err != nil {
		socket.Close()
		return nil, err
	}
	if _, err := c.request(TypeConnectionInit, payload); err != nil {
		socket.Close()
		return nil, fmt.Errorf("initialising connection: %w", err)
	}
	return c, nil
}

// ValidateFolder asks the daemon to validate a candidate folder path.
func (c *Client) ValidateFolder(path string) (domain.ValidationResult, error) {
	var result domain.ValidationResult
	payload, err := json.Marshal(FolderPayload{Path: path})
	if err != nil {
		return result, err
	}
	data, err := c.request(TypeFolderValidate, payload)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("decoding validation result: %w", err)
	}
	return result, nil
}

// AddFolder configures a folder on the daemon.
func (c *Client) AddFolder(path, model string) error {
	payload, err := json.Marshal(FolderPayload{Path: path, Model: model})
	if err != nil {
		return err
	}
	_, err = c.request(TypeFolderAdd, payload)
	return err
}

// RemoveFolder removes a configured folder and its index.
func (c *Client) RemoveFolder(path string) error {
	payload, err := json.Marshal(FolderPayload{Path: path})
	if err != nil {
		return err
	}
	_, err = c.request(TypeFolderRemove, payload)
	return err
}

// Folders lists the configured folders with their live status.
func (c *Client) Folders() ([]domain.FolderInfo, error) {
	data, err := c.request(TypeFolderList, nil)
	if err != nil {
		return nil, err
	}
	var result FolderListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding folder list: %w", err)
	}
	return result.Folders, nil
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	return c.socket.Close()
}

func (c *Client) request(msgType string, payload json.RawMessage) (json.RawMessage, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	if err := c.socket.WriteJSON(Envelope{ID: id, Type: msgType, Payload: payload}); err != nil {
		return nil, fmt.Errorf("sending %s: %w", msgType, err)
	}

	for {
		var env Envelope
		if err := c.socket.ReadJSON(&env); err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		// Pushed snapshots may interleave with the response.
		if env.Type != TypeResponse || env.ID != id {
			continue
		}

		var resp Response
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		if !resp.Success {
			return nil, errors.New(resp.Error)
		}
		return resp.Data, nil
	}
}
