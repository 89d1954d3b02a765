//go:build !swagger

package api

import "github.com/gin-gonic/gin"

// registerSwaggerRoutes 非swagger构建不挂载
func registerSwaggerRoutes(engine *gin.Engine) {}
