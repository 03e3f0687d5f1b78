package handlers

// Envelope shapes referenced by swagger annotations.

type RespOK struct {
	Code    int    `json:"code" example:"0"`
	Message string `json:"message" example:"ok"`
	Data    any    `json:"data"`
}

type RespErr struct {
	Code    int    `json:"code" example:"40000"`
	Message string `json:"message" example:"bad request"`
	Data    any    `json:"data"`
}
