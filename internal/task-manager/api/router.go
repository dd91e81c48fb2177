package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/route"
)

// Register mounts the task manager routes on r. Everything except /ping sits
// behind the identity middleware.
func Register(r *route.Engine, tasks *TaskHandler, schedules *ScheduleHandler, jwtSecret string) {
	r.GET("/ping", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	identity := IdentityMiddleware(jwtSecret)

	taskGroup := r.Group("/tasks", identity)
	{
		taskGroup.POST("", tasks.CreateTask)
		taskGroup.GET("", tasks.GetTasks)
		taskGroup.GET("/:id", tasks.GetTaskByID)
		taskGroup.POST("/:id/script", tasks.GenerateScript)
		taskGroup.POST("/:id/schedules", tasks.CreateSchedule)
		taskGroup.GET("/:id/schedules", tasks.ListSchedules)
		taskGroup.POST("/:id/run", tasks.RunTask)
	}

	scheduleGroup := r.Group("/schedules", identity)
	{
		scheduleGroup.GET("/:id", schedules.GetSchedule)
		scheduleGroup.PUT("/:id", schedules.Reschedule)
		scheduleGroup.POST("/:id/run", schedules.RunSchedule)
		scheduleGroup.GET("/:id/progress", schedules.GetProgress)
	}

	adminGroup := r.Group("/admin", identity)
	adminGroup.POST("/scheduler/scan", schedules.Scan)
}
