package utils

import "github.com/gin-gonic/gin"

// SuccessResponse is the API envelope for successful requests.
func SuccessResponse(message string, data interface{}) gin.H {
	return gin.H{
		"status":  "success",
		"message": message,
		"data":    data,
	}
}

// ErrorResponse is the API envelope for failed requests.
func ErrorResponse(message, detail string) gin.H {
	resp := gin.H{
		"status":  "error",
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	return resp
}
