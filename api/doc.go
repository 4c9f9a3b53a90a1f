// Package api documents the AvatarFlow HTTP and WebSocket surface.
//
// # API Overview
//
// AvatarFlow turns a user's speech or text into a rendered avatar video reply:
//   - GET /ws                 WebSocket session (see api/gateway)
//   - GET /video/{filename}   rendered MP4 results
//   - GET /health             per-service initialization status
//   - GET /healthz, /ready    liveness and readiness probes
//   - GET /version            build information
//   - GET /api/v1/stats       sessions, render queue and turn pool
//
// # WebSocket Protocol
//
// Inbound frames are JSON control messages or binary audio:
//
//	{"type":"text_input","text":"hello","prompt":"...","reference_image":"..."}
//	{"type":"config","prompt":"...","reference_image":"...","language":"en"}
//	<binary audio>
//
// reference_image is a plain file name resolved inside render.image_dir;
// paths are rejected with INPUT_ERROR. Empty binary frames are INPUT_ERROR.
//
// Outbound frames are JSON objects with a per-session monotonic "seq":
// connection, status, transcription, response, video_ready, config_updated
// and error.
//
// # Authentication
//
// When API keys are configured, requests must carry the X-API-Key header.
// Browsers opening a WebSocket may pass api_key (or access_token for JWT)
// as a query parameter when allow_query_api_key is enabled:
//
//	X-API-Key: your-api-key
//
// Health, version, video and metrics paths are not authenticated.
package api
