package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvokeTypedRoundTrip(t *testing.T) {
	inv := NewInvoker()
	inv.Register(SearchImages, FuncWorker(func(_ context.Context, payload []byte) ([]byte, error) {
		var req SearchImagesRequest
		require.NoError(t, json.Unmarshal(payload, &req))
		resp := SearchImagesResponse{Count: 1, Images: []ImageRef{{ID: "img1", Date: req.StartDate}}}
		return json.Marshal(resp)
	}))

	var resp SearchImagesResponse
	err := InvokeTyped(context.Background(), inv, SearchImages,
		SearchImagesRequest{Latitude: -6, Longitude: -53, StartDate: "2022-06-01", EndDate: "2022-09-01"}, &resp)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "img1", resp.Images[0].ID)
}

func TestInvokeUnknownWorker(t *testing.T) {
	inv := NewInvoker()
	_, err := inv.Invoke(context.Background(), "does_not_exist", nil)
	require.Error(t, err)
}
