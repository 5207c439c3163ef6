package app

var CreateTopic = createTopic
