package utils

import "github.com/gin-gonic/gin"

func JSONSuccess(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{"success": true, "data": data})
}

// JSONError writes the {"error":{code,message,details}} envelope. details
// is omitted when empty.
func JSONError(c *gin.Context, status int, code, message string, details interface{}) {
	body := gin.H{"code": code, "message": message}
	if details != nil && details != "" {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
