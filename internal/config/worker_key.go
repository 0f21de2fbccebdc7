package config

type WorkerKeyStruct struct {
	SecurityFlagQueue string
	AIGradingQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	SecurityFlagQueue: "security_flag_queue",
	AIGradingQueue:    "ai_grading_queue",
}
