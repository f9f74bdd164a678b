package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the vendor cloud API.
	DefaultBaseURL = "https://api2.xlink.cn"

	// DefaultCorpID identifies the vendor app to the cloud API.
	DefaultCorpID = "1007d2ad150c4000"

	// DefaultTimeout bounds each API request.
	DefaultTimeout = 5 * time.Second

	// maxResponseSize caps API response bodies.
	maxResponseSize = 1 << 20
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// CloudConfig configures a CloudClient.
type CloudConfig struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// CorpID defaults to DefaultCorpID.
	CorpID string

	// Email and Password are the vendor app account.
	Email    string
	Password string

	// Timeout bounds each request. Default: 5 seconds.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

// CloudClient reads mesh records from the vendor cloud.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type CloudClient struct {
	cfg    CloudConfig
	client *http.Client

	mu     sync.Mutex
	token  string
	userID string

	logger Logger
}

var _ Source = (*CloudClient)(nil)

// NewCloudClient creates a client. No request is made until Records or
// Authenticate.
func NewCloudClient(cfg CloudConfig) *CloudClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CorpID == "" {
		cfg.CorpID = DefaultCorpID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &CloudClient{cfg: cfg, client: client}
}

// SetLogger sets the logger for this client.
func (c *CloudClient) SetLogger(logger Logger) {
	c.logger = logger
}

// MeshInfo is one entry of the subscribed device list. Each entry is a mesh.
type MeshInfo struct {
	ID        flexString `json:"id"`
	ProductID flexString `json:"product_id"`
	MAC       flexString `json:"mac"`
	AccessKey flexString `json:"access_key"`
	Name      flexString `json:"name"`
}

// Bulb is one light in a mesh property document.
type Bulb struct {
	DeviceID    flexString `json:"deviceID"`
	MAC         flexString `json:"mac"`
	DisplayName flexString `json:"displayName"`
	DeviceType  flexString `json:"deviceType"`
}

// Properties is the property document of a mesh.
type Properties struct {
	Error      json.RawMessage `json:"error,omitempty"`
	BulbsArray []Bulb          `json:"bulbsArray"`
}

// Authenticate exchanges the account credentials for an access token.
func (c *CloudClient) Authenticate(ctx context.Context) error {
	body := map[string]string{
		"corp_id":  c.cfg.CorpID,
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	}

	var resp struct {
		AccessToken flexString `json:"access_token"`
		UserID      flexString `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/user_auth", "", body, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if resp.AccessToken == "" || resp.UserID == "" {
		return fmt.Errorf("%w: response carries no token", ErrAuthFailed)
	}

	c.mu.Lock()
	c.token = string(resp.AccessToken)
	c.userID = string(resp.UserID)
	c.mu.Unlock()
	return nil
}

func (c *CloudClient) credentials() (token, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.userID
}

// ListMeshes returns the meshes subscribed by the account.
func (c *CloudClient) ListMeshes(ctx context.Context) ([]MeshInfo, error) {
	token, userID := c.credentials()
	var meshes []MeshInfo
	path := "/v2/user/" + url.PathEscape(userID) + "/subscribe/devices"
	if err := c.do(ctx, http.MethodGet, path, token, nil, &meshes); err != nil {
		return nil, err
	}
	return meshes, nil
}

// Properties returns the property document of one mesh.
func (c *CloudClient) Properties(ctx context.Context, productID, meshID string) (Properties, error) {
	token, _ := c.credentials()
	var props Properties
	path := "/v2/product/" + url.PathEscape(productID) + "/device/" + url.PathEscape(meshID) + "/property"
	if err := c.do(ctx, http.MethodGet, path, token, nil, &props); err != nil {
		return Properties{}, err
	}
	return props, nil
}

// Records authenticates when needed and builds one record per mesh.
//
// Meshes whose property document reports an error, or that have no lights,
// are skipped. A light with an unusable serial or MAC fails the whole call.
func (c *CloudClient) Records(ctx context.Context) ([]Record, error) {
	if token, _ := c.credentials(); token == "" {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	meshes, err := c.ListMeshes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing meshes: %w", err)
	}

	records := make([]Record, 0, len(meshes))
	for _, m := range meshes {
		props, err := c.Properties(ctx, string(m.ProductID), string(m.ID))
		if err != nil {
			return nil, fmt.Errorf("reading mesh %s: %w", m.ID, err)
		}
		if len(props.Error) > 0 && string(props.Error) != "null" {
			c.logWarn("skipping mesh with property error", "mesh_id", string(m.ID), "error", string(props.Error))
			continue
		}
		if len(props.BulbsArray) == 0 {
			c.logWarn("skipping mesh without lights", "mesh_id", string(m.ID))
			continue
		}

		rec := Record{
			MeshID:      string(m.ID),
			MeshAddress: string(m.MAC),
			AccessKey:   string(m.AccessKey),
		}
		for _, b := range props.BulbsArray {
			dev, err := bulbRecord(b)
			if err != nil {
				return nil, fmt.Errorf("mesh %s: %w", m.ID, err)
			}
			rec.Devices = append(rec.Devices, dev)
		}
		records = append(records, rec)
	}
	return records, nil
}

func bulbRecord(b Bulb) (DeviceRecord, error) {
	id, err := MeshIDFromSerial(string(b.DeviceID))
	if err != nil {
		return DeviceRecord{}, err
	}
	mac, err := ReverseMAC(string(b.MAC))
	if err != nil {
		return DeviceRecord{}, err
	}
	typeCode, err := strconv.Atoi(string(b.DeviceType))
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("%w: device %q type %q", ErrInvalidRecord, b.DisplayName, b.DeviceType)
	}
	return DeviceRecord{
		DeviceID: id,
		MAC:      mac,
		TypeCode: typeCode,
		Name:     string(b.DisplayName),
	}, nil
}

// do performs one JSON request.
func (c *CloudClient) do(ctx context.Context, method, path, token string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Access-Token", token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedResponse, method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrUnexpectedResponse, path, err)
	}
	return nil
}

func (c *CloudClient) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}

// flexString accepts a JSON string or number. The cloud API is not
// consistent about which it sends for ids, keys and type codes.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
